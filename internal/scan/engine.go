package scan

import (
	"context"
	"time"
)

// Config is the input handed to a scan engine for one job.
type Config struct {
	Sockets             []string      `json:"sockets"`
	FingerprintDatabase string        `json:"fingerprint_database"`
	Policy              string        `json:"policy"`
	Timeout             time.Duration `json:"timeout"`
}

// Engine runs a scan. Its result must be JSON serializable.
type Engine interface {
	Scan(ctx context.Context, cfg Config) (any, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, cfg Config) (any, error)

func (f EngineFunc) Scan(ctx context.Context, cfg Config) (any, error) {
	return f(ctx, cfg)
}

// Settings are deployment constants applied to every job. They are never
// taken from the coordinator.
type Settings struct {
	FingerprintDatabase string
	Policy              string
	Timeout             time.Duration
}
