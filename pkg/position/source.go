package position

import (
	"context"
	"errors"
	"time"
)

// Errors returned by position sources. The tracker maps these onto the
// application error taxonomy.
var (
	// ErrPermissionDenied means access to the underlying device or service
	// was refused. Sources never retry; a new grant requires re-activation.
	ErrPermissionDenied = errors.New("position source: permission denied")

	// ErrUnavailable means the source is reachable but cannot produce a fix.
	ErrUnavailable = errors.New("position source: no fix available")
)

// Accuracy selects the acquisition tier a source should aim for.
type Accuracy int

const (
	AccuracyCoarse Accuracy = iota
	AccuracyBalanced
	AccuracyHigh
)

// Sample is a single position fix.
type Sample struct {
	Latitude   float64
	Longitude  float64
	Accuracy   float64
	CapturedAt time.Time
}

// WatchConfig gates how often a continuous watch emits samples. Updates
// closer together than MinInterval, or that moved less than MinDistance
// meters since the last emitted fix, are dropped.
type WatchConfig struct {
	Accuracy    Accuracy
	MinInterval time.Duration
	MinDistance float64
}

const (
	defaultMinInterval = 5 * time.Second
	defaultMinDistance = 5.0
)

func (c WatchConfig) withDefaults() WatchConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = defaultMinInterval
	}
	if c.MinDistance <= 0 {
		c.MinDistance = defaultMinDistance
	}
	return c
}

// Watcher is an open stream of position updates. Stop releases the
// underlying subscription and closes the Updates channel; it is safe to call
// more than once.
type Watcher interface {
	Updates() <-chan Sample
	Stop()
}

// Source provides one-shot and continuous position acquisition gated by a
// runtime permission grant.
type Source interface {
	// RequestPermission asks for location access. A denial is returned as
	// ErrPermissionDenied and is not retried.
	RequestPermission(ctx context.Context) error

	// Current reads a single position fix.
	Current(ctx context.Context) (Sample, error)

	// Watch opens a continuous position stream gated by cfg. The stream
	// stays open until the watcher is stopped or ctx is cancelled.
	Watch(ctx context.Context, cfg WatchConfig) (Watcher, error)
}

// gate implements the shared time/distance filtering for continuous sources.
type gate struct {
	cfg     WatchConfig
	last    Sample
	emitted bool
}

func newGate(cfg WatchConfig) *gate {
	return &gate{cfg: cfg.withDefaults()}
}

// admit reports whether s passes the time and distance thresholds relative
// to the previously emitted sample.
func (g *gate) admit(s Sample) bool {
	if !g.emitted {
		g.last = s
		g.emitted = true
		return true
	}
	if s.CapturedAt.Sub(g.last.CapturedAt) < g.cfg.MinInterval {
		return false
	}
	if DistanceMeters(g.last.Latitude, g.last.Longitude, s.Latitude, s.Longitude) < g.cfg.MinDistance {
		return false
	}
	g.last = s
	g.emitted = true
	return true
}
