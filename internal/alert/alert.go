// Package alert implements alert dispatching to multiple sinks.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

const sendTimeout = 10 * time.Second

// Sink is an alert destination.
type Sink interface {
	Send(ctx context.Context, alert types.Alert) error
	Name() string
}

// Dispatcher routes alerts to configured sinks.
type Dispatcher struct {
	sinks    []Sink
	logger   *slog.Logger
	ebClient EventBridgeAPI
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used to report sink failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSink adds a pre-built sink.
func WithSink(s Sink) Option {
	return func(d *Dispatcher) { d.sinks = append(d.sinks, s) }
}

// WithEventBridgeClient sets the client used by eventbridge sinks.
func WithEventBridgeClient(c EventBridgeAPI) Option {
	return func(d *Dispatcher) { d.ebClient = c }
}

// NewDispatcher creates a dispatcher from alert configs.
func NewDispatcher(configs []types.AlertConfig, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	for _, cfg := range configs {
		sink, err := d.newSink(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating %s sink: %w", cfg.Type, err)
		}
		d.sinks = append(d.sinks, sink)
	}
	return d, nil
}

// Dispatch sends an alert to all configured sinks. Sink failures are logged
// and never propagate to the caller.
func (d *Dispatcher) Dispatch(alert types.Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			d.logger.Error("alert dispatch failed", "sink", sink.Name(), "error", err)
		}
	}
}

// AlertFunc returns a function suitable for use as the generator's alert callback.
func (d *Dispatcher) AlertFunc() func(types.Alert) {
	return d.Dispatch
}

// Close releases sinks that hold resources.
func (d *Dispatcher) Close() error {
	for _, s := range d.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dispatcher) newSink(cfg types.AlertConfig) (Sink, error) {
	switch cfg.Type {
	case types.AlertConsole:
		return NewConsoleSink(), nil
	case types.AlertFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.AlertEventBridge:
		var opts []EventBridgeSinkOption
		if d.ebClient != nil {
			opts = append(opts, WithEBClient(d.ebClient))
		}
		return NewEventBridgeSink(cfg.EventBusName, cfg.Source, opts...)
	default:
		return nil, fmt.Errorf("unknown alert type %q", cfg.Type)
	}
}
