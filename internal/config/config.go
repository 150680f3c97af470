package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel      string              `json:"log_level" yaml:"log_level"`
	Engine        EngineConfig        `json:"engine" yaml:"engine"`
	Arbitration   ArbitrationConfig   `json:"arbitration" yaml:"arbitration"`
	History       HistoryConfig       `json:"history" yaml:"history"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	Ingest        IngestConfig        `json:"ingest" yaml:"ingest"`
	Broadcast     BroadcastConfig     `json:"broadcast" yaml:"broadcast"`
	API           APIConfig           `json:"api" yaml:"api"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
}

type EngineConfig struct {
	IntegrationInterval time.Duration `json:"integration_interval" yaml:"integration_interval"`
	SummaryInterval     time.Duration `json:"summary_interval" yaml:"summary_interval"`
	MaxSnapshotAge      time.Duration `json:"max_snapshot_age" yaml:"max_snapshot_age"`
	MaxFutureSkew       time.Duration `json:"max_future_skew" yaml:"max_future_skew"`
	Timezone            string        `json:"timezone" yaml:"timezone"`
	AutoStart           bool          `json:"auto_start" yaml:"auto_start"`
}

// Location resolves the configured timezone, falling back to time.Local.
func (c EngineConfig) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.Local
}

type ArbitrationConfig struct {
	Mode        string        `json:"mode" yaml:"mode"`
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	APIKey      string        `json:"api_key" yaml:"api_key"`
	Model       string        `json:"model" yaml:"model"`
	VerifyModel bool          `json:"verify_model" yaml:"verify_model"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries  int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay  time.Duration `json:"retry_delay" yaml:"retry_delay"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `json:"temperature" yaml:"temperature"`
}

// Enabled reports whether ambiguous cases are sent to a backend. Mode
// "none" runs rule-only.
func (c ArbitrationConfig) Enabled() bool {
	return c.Mode != "" && !strings.EqualFold(c.Mode, "none")
}

type HistoryConfig struct {
	BucketMinutes        int           `json:"bucket_minutes" yaml:"bucket_minutes"`
	MaxEntryWeight       time.Duration `json:"max_entry_weight" yaml:"max_entry_weight"`
	LastEntryWeight      time.Duration `json:"last_entry_weight" yaml:"last_entry_weight"`
	FocusBlockMinMinutes float64       `json:"focus_block_min_minutes" yaml:"focus_block_min_minutes"`
}

func (c HistoryConfig) BucketWidth() time.Duration {
	return time.Duration(c.BucketMinutes) * time.Minute
}

type NotificationsConfig struct {
	Mode                      string        `json:"mode" yaml:"mode"`
	MaxPerDay                 int           `json:"max_per_day" yaml:"max_per_day"`
	DrowsyTriggerBuckets      int           `json:"drowsy_trigger_buckets" yaml:"drowsy_trigger_buckets"`
	DistractedTriggerBuckets  int           `json:"distracted_trigger_buckets" yaml:"distracted_trigger_buckets"`
	OverFocusWindowBuckets    int           `json:"over_focus_window_buckets" yaml:"over_focus_window_buckets"`
	OverFocusThresholdBuckets int           `json:"over_focus_threshold_buckets" yaml:"over_focus_threshold_buckets"`
	DrowsyTrigger             time.Duration `json:"drowsy_trigger" yaml:"drowsy_trigger"`
	DistractedTrigger         time.Duration `json:"distracted_trigger" yaml:"distracted_trigger"`
	OverFocusWindow           time.Duration `json:"over_focus_window" yaml:"over_focus_window"`
	OverFocusThreshold        time.Duration `json:"over_focus_threshold" yaml:"over_focus_threshold"`
	DrowsyCooldown            time.Duration `json:"drowsy_cooldown" yaml:"drowsy_cooldown"`
	DistractedCooldown        time.Duration `json:"distracted_cooldown" yaml:"distracted_cooldown"`
	OverFocusCooldown         time.Duration `json:"over_focus_cooldown" yaml:"over_focus_cooldown"`
	Desktop                   bool          `json:"desktop" yaml:"desktop"`
}

const (
	NotifyModeBucket     = "bucket"
	NotifyModeContinuous = "continuous"
)

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	DedupeWindow  time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type BroadcastConfig struct {
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
	Kafka     KafkaConfig     `json:"kafka" yaml:"kafka"`
}

type WebSocketConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	ClientBuffer int           `json:"client_buffer" yaml:"client_buffer"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	DSN         string `json:"dsn" yaml:"dsn"`
	MemoryLimit int    `json:"memory_limit" yaml:"memory_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Engine: EngineConfig{
			IntegrationInterval: 10 * time.Second,
			SummaryInterval:     5 * time.Minute,
			MaxSnapshotAge:      30 * time.Second,
			MaxFutureSkew:       2 * time.Second,
			Timezone:            "Local",
			AutoStart:           true,
		},
		Arbitration: ArbitrationConfig{
			Mode:        "http",
			BaseURL:     "http://127.0.0.1:8080/v1",
			Model:       "qwen2.5-3b-instruct",
			VerifyModel: true,
			Timeout:     20 * time.Second,
			MaxRetries:  1,
			RetryDelay:  500 * time.Millisecond,
			MaxTokens:   128,
			Temperature: 0.1,
		},
		History: HistoryConfig{
			BucketMinutes:        5,
			MaxEntryWeight:       30 * time.Second,
			LastEntryWeight:      5 * time.Second,
			FocusBlockMinMinutes: 5,
		},
		Notifications: NotificationsConfig{
			Mode:                      NotifyModeBucket,
			MaxPerDay:                 6,
			DrowsyTriggerBuckets:      2,
			DistractedTriggerBuckets:  2,
			OverFocusWindowBuckets:    18,
			OverFocusThresholdBuckets: 16,
			DrowsyTrigger:             120 * time.Second,
			DistractedTrigger:         120 * time.Second,
			OverFocusWindow:           90 * time.Minute,
			OverFocusThreshold:        80 * time.Minute,
			DrowsyCooldown:            15 * time.Minute,
			DistractedCooldown:        20 * time.Minute,
			OverFocusCooldown:         30 * time.Minute,
		},
		Ingest: IngestConfig{
			ChannelBuffer: 64,
			DedupeWindow:  10 * time.Second,
			REST:          RESTConfig{Enabled: true, Addr: "127.0.0.1:18081"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: "127.0.0.1:18082"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Broadcast: BroadcastConfig{
			WebSocket: WebSocketConfig{Enabled: true, ClientBuffer: 32, WriteTimeout: 5 * time.Second},
			Kafka:     KafkaConfig{Enabled: false},
		},
		API:     APIConfig{Enabled: true, Addr: "127.0.0.1:18080"},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:sidekick.db?_pragma=busy_timeout(5000)", MemoryLimit: 100000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Engine.IntegrationInterval <= 0 {
		cfg.Engine.IntegrationInterval = def.Engine.IntegrationInterval
	}
	if cfg.Engine.SummaryInterval <= 0 {
		cfg.Engine.SummaryInterval = def.Engine.SummaryInterval
	}
	if cfg.Engine.MaxSnapshotAge <= 0 {
		cfg.Engine.MaxSnapshotAge = def.Engine.MaxSnapshotAge
	}
	if cfg.History.BucketMinutes <= 0 {
		cfg.History.BucketMinutes = def.History.BucketMinutes
	}
	if cfg.History.MaxEntryWeight <= 0 {
		cfg.History.MaxEntryWeight = def.History.MaxEntryWeight
	}
	if cfg.History.LastEntryWeight <= 0 {
		cfg.History.LastEntryWeight = def.History.LastEntryWeight
	}
	if cfg.Notifications.Mode == "" {
		cfg.Notifications.Mode = NotifyModeBucket
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Broadcast.WebSocket.ClientBuffer <= 0 {
		cfg.Broadcast.WebSocket.ClientBuffer = def.Broadcast.WebSocket.ClientBuffer
	}
	if cfg.Broadcast.WebSocket.WriteTimeout <= 0 {
		cfg.Broadcast.WebSocket.WriteTimeout = def.Broadcast.WebSocket.WriteTimeout
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
	}
	if cfg.Storage.MemoryLimit <= 0 {
		cfg.Storage.MemoryLimit = def.Storage.MemoryLimit
	}
	if cfg.Arbitration.Timeout <= 0 {
		cfg.Arbitration.Timeout = def.Arbitration.Timeout
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Broadcast.Kafka.Enabled {
		if len(cfg.Broadcast.Kafka.Brokers) == 0 || cfg.Broadcast.Kafka.Topic == "" {
			return errors.New("broadcast.kafka requires brokers, topic")
		}
	}
	if cfg.Arbitration.Enabled() && cfg.Arbitration.BaseURL == "" {
		return errors.New("arbitration.base_url required unless arbitration.mode is none")
	}
	if cfg.History.BucketMinutes < 1 || cfg.History.BucketMinutes > 60 {
		return fmt.Errorf("history.bucket_minutes must be within 1..60, got %d", cfg.History.BucketMinutes)
	}
	n := cfg.Notifications
	switch n.Mode {
	case NotifyModeBucket, NotifyModeContinuous:
	default:
		return fmt.Errorf("notifications.mode must be %q or %q", NotifyModeBucket, NotifyModeContinuous)
	}
	if n.MaxPerDay < 0 {
		return errors.New("notifications.max_per_day must be >= 0")
	}
	if n.DrowsyTriggerBuckets <= 0 || n.DistractedTriggerBuckets <= 0 {
		return errors.New("notifications trigger buckets must be > 0")
	}
	if n.OverFocusWindowBuckets <= 0 || n.OverFocusThresholdBuckets <= 0 {
		return errors.New("notifications over_focus buckets must be > 0")
	}
	if n.OverFocusThresholdBuckets > n.OverFocusWindowBuckets {
		return errors.New("notifications.over_focus_threshold_buckets must not exceed over_focus_window_buckets")
	}
	if n.DrowsyCooldown < 0 || n.DistractedCooldown < 0 || n.OverFocusCooldown < 0 {
		return errors.New("notifications cooldowns must be >= 0")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql", "memory":
	default:
		return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	file    atomic.Value
	modTime time.Time
	overlay func(*Config)
}

// NewManager loads path. A missing file yields the defaults; the file is
// created on the first Update.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	cfg, err := Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = DefaultConfig()
	}
	file := *cfg
	m.file.Store(&file)
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager serves cfg without a backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	file := *cfg
	m.file.Store(&file)
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

// FileConfig returns the config as loaded from disk, without the overlay.
func (m *Manager) FileConfig() *Config {
	if v := m.file.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

// SetOverlay installs fn to run over the current config and every reload.
// Install it before Watch starts.
func (m *Manager) SetOverlay(fn func(*Config)) error {
	cfg := *m.Get()
	if fn != nil {
		fn(&cfg)
	}
	if err := Validate(&cfg); err != nil {
		return fmt.Errorf("config overrides: %w", err)
	}
	m.overlay = fn
	m.cfg.Store(&cfg)
	return nil
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	file := *cfg
	if m.overlay != nil {
		m.overlay(cfg)
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config overrides: %w", err)
		}
	}
	m.file.Store(&file)
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

// Update replaces both the file and the live config with cfg. The overlay is
// not applied; use Edit when one is installed.
func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := m.save(cfg); err != nil {
		return err
	}
	file := *cfg
	m.file.Store(&file)
	m.cfg.Store(cfg)
	return nil
}

// Edit applies fn to the file config and saves the result. The overlay is
// then reapplied so values it supplies stay in memory only.
func (m *Manager) Edit(fn func(*Config)) (*Config, error) {
	file := *m.FileConfig()
	fn(&file)
	if err := Validate(&file); err != nil {
		return nil, err
	}
	live := file
	if m.overlay != nil {
		m.overlay(&live)
		if err := Validate(&live); err != nil {
			return nil, fmt.Errorf("config overrides: %w", err)
		}
	}
	if err := m.save(&file); err != nil {
		return nil, err
	}
	m.file.Store(&file)
	m.cfg.Store(&live)
	return &live, nil
}

func (m *Manager) save(cfg *Config) error {
	if m.path == "" {
		return nil
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}

// DefaultPath is ~/.sidekick/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sidekick.yaml"
	}
	return filepath.Join(home, ".sidekick", "config.yaml")
}
