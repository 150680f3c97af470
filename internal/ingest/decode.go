package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"sidekick/internal/model"
	"sidekick/internal/normalize"
)

type DecodeOptions struct {
	Now           time.Time
	MaxFutureSkew time.Duration
	Location      *time.Location
}

type facialWire struct {
	model.FacialSnapshot
	Timestamp json.RawMessage `json:"timestamp"`
}

type usageWire struct {
	model.UsageSnapshot
	Timestamp json.RawMessage `json:"timestamp"`
}

type envelope struct {
	Kind   model.SignalKind `json:"kind"`
	Source string           `json:"source"`
	Facial *facialWire      `json:"facial"`
	Usage  *usageWire       `json:"usage"`
}

func (o DecodeOptions) now() time.Time {
	if o.Now.IsZero() {
		return time.Now().UTC()
	}
	return o.Now
}

// parseTimestamp reads a JSON number of unix seconds or a string in any
// layout normalize understands. Missing means zero.
func parseTimestamp(raw json.RawMessage, loc *time.Location) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		return normalize.ParseTimestamp(s, loc)
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp: %w", err)
	}
	return normalize.FromUnixFloat(f), nil
}

func (w *facialWire) snapshot(opts DecodeOptions) (*model.FacialSnapshot, error) {
	ts, err := parseTimestamp(w.Timestamp, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", normalize.ErrInvalidSignal, err)
	}
	s := w.FacialSnapshot
	s.ObservedAt = normalize.Clamp(ts, opts.now(), opts.MaxFutureSkew)
	return &s, nil
}

func (w *usageWire) snapshot(opts DecodeOptions) (*model.UsageSnapshot, error) {
	ts, err := parseTimestamp(w.Timestamp, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", normalize.ErrInvalidSignal, err)
	}
	s := w.UsageSnapshot
	s.ObservedAt = normalize.Clamp(ts, opts.now(), opts.MaxFutureSkew)
	return &s, nil
}

func (e envelope) signal(opts DecodeOptions) (model.Signal, error) {
	sig := model.Signal{Kind: e.Kind, Source: e.Source}
	var err error
	if e.Facial != nil {
		if sig.Facial, err = e.Facial.snapshot(opts); err != nil {
			return model.Signal{}, err
		}
	}
	if e.Usage != nil {
		if sig.Usage, err = e.Usage.snapshot(opts); err != nil {
			return model.Signal{}, err
		}
	}
	if err := normalize.Signal(sig); err != nil {
		return model.Signal{}, err
	}
	return sig, nil
}

func decodeError(err error) error {
	return fmt.Errorf("%w: %v", normalize.ErrInvalidSignal, err)
}

// DecodeSignal decodes one {"kind": ..., "facial"|"usage": {...}} envelope.
func DecodeSignal(data []byte, opts DecodeOptions) (model.Signal, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Signal{}, decodeError(err)
	}
	return env.signal(opts)
}

// DecodeSignals accepts a single envelope or an array of them. Invalid
// items are reported individually.
func DecodeSignals(data []byte, opts DecodeOptions) ([]model.Signal, []error, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, nil, decodeError(fmt.Errorf("empty body"))
	}
	if trim[0] != '[' {
		sig, err := DecodeSignal(trim, opts)
		if err != nil {
			return nil, []error{err}, nil
		}
		return []model.Signal{sig}, nil, nil
	}
	var list []envelope
	if err := json.Unmarshal(trim, &list); err != nil {
		return nil, nil, decodeError(err)
	}
	out := make([]model.Signal, 0, len(list))
	var errs []error
	for _, env := range list {
		sig, err := env.signal(opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, sig)
	}
	return out, errs, nil
}

// DecodeFacial decodes a bare facial snapshot.
func DecodeFacial(data []byte, opts DecodeOptions) (model.Signal, error) {
	var w facialWire
	if err := json.Unmarshal(data, &w); err != nil {
		return model.Signal{}, decodeError(err)
	}
	return envelope{Kind: model.SignalFacial, Facial: &w}.signal(opts)
}

// DecodeUsage decodes a bare usage snapshot.
func DecodeUsage(data []byte, opts DecodeOptions) (model.Signal, error) {
	var w usageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return model.Signal{}, decodeError(err)
	}
	return envelope{Kind: model.SignalUsage, Usage: &w}.signal(opts)
}
