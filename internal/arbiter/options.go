package arbiter

import (
	"log/slog"
	"net/http"
	"time"
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

type Option func(*Options)

func DefaultOptions() *Options {
	return &Options{
		BaseURL:     "http://127.0.0.1:8080/v1",
		Model:       "qwen2.5-3b-instruct",
		Timeout:     20 * time.Second,
		MaxRetries:  1,
		RetryDelay:  500 * time.Millisecond,
		MaxTokens:   128,
		Temperature: 0.1,
	}
}

func (o *Options) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

func WithBaseURL(url string) Option {
	return func(o *Options) { o.BaseURL = url }
}

func WithAPIKey(key string) Option {
	return func(o *Options) { o.APIKey = key }
}

func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = maxRetries
		o.RetryDelay = delay
	}
}

func WithSampling(maxTokens int, temperature float64) Option {
	return func(o *Options) {
		o.MaxTokens = maxTokens
		o.Temperature = temperature
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}
