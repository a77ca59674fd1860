package fetcher

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/config"
	apperrors "github.com/johnayoung/go-streak-analyzer/internal/errors"
	"github.com/johnayoung/go-streak-analyzer/internal/exchange"
	"github.com/johnayoung/go-streak-analyzer/internal/logger"
	"github.com/johnayoung/go-streak-analyzer/internal/snapshot"
)

// Builder assembles a Fetcher.
type Builder struct {
	source     Source
	snapshots  *snapshot.Store
	mirror     Mirror
	classifier *apperrors.ErrorClassifier
	logger     *logger.ComponentLogger
	cfg        Config
	now        func() time.Time
}

// NewBuilder creates a builder holding DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig(), now: time.Now}
}

// WithSource sets the exchange the candles come from.
func (b *Builder) WithSource(source Source) *Builder {
	b.source = source
	return b
}

// WithSnapshots sets the snapshot store.
func (b *Builder) WithSnapshots(store *snapshot.Store) *Builder {
	b.snapshots = store
	return b
}

// WithMirror also stores every written snapshot's candles in store.
func (b *Builder) WithMirror(store Mirror) *Builder {
	b.mirror = store
	return b
}

// WithClassifier sets the retry policy holder.
func (b *Builder) WithClassifier(classifier *apperrors.ErrorClassifier) *Builder {
	b.classifier = classifier
	return b
}

// WithLogger sets the logger
func (b *Builder) WithLogger(l *logger.ComponentLogger) *Builder {
	b.logger = l
	return b
}

// WithConfig sets the configuration
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithClock overrides time.Now.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

// Build validates the configuration and returns the Fetcher.
func (b *Builder) Build() (*Fetcher, error) {
	if b.source == nil {
		return nil, errors.New("fetcher requires a source")
	}
	if b.snapshots == nil {
		return nil, errors.New("fetcher requires a snapshot store")
	}
	if err := ValidateConfig(b.cfg); err != nil {
		return nil, err
	}

	l := b.logger
	if l == nil {
		l = logger.NewLoggerManagerWithWriter(config.LoggingConfig{Level: "error"}, io.Discard).
			GetComponentLogger(component)
	}
	classifier := b.classifier
	if classifier == nil {
		classifier = apperrors.NewErrorClassifier(config.DefaultConfig().ErrorHandling, l.Logger)
	}

	return &Fetcher{
		source:     b.source,
		snapshots:  b.snapshots,
		mirror:     b.mirror,
		classifier: classifier,
		logger:     l,
		cfg:        b.cfg,
		now:        b.now,
	}, nil
}

// ValidateConfig checks a fetcher configuration.
func ValidateConfig(cfg Config) error {
	if !exchange.IsSupportedGranularity(cfg.Interval) {
		return fmt.Errorf("unsupported interval %d, use one of %v", cfg.Interval, exchange.Granularities)
	}
	if cfg.EarliestStart.IsZero() {
		return errors.New("earliest start is required")
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	return nil
}
