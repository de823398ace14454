package pipeline

import (
	"fmt"
	"io"

	"mintage/internal/align"
	"mintage/internal/config"
	"mintage/internal/logger"
	"mintage/internal/modehunt"
	"mintage/internal/parser"
	"mintage/internal/render"
	"mintage/internal/store"
)

// Builder helps construct a fully configured Pipeline
type Builder struct {
	ledgerDir      string
	config         *Config
	parser         SuiteParser
	aligner        Aligner
	hunter         ModeHunter
	visualizer     Visualizer
	ledger         RunLedger
	progress       io.Writer
	skipVisualizer bool
	skipLedger     bool
}

// NewBuilder creates a new pipeline builder with default settings
func NewBuilder() *Builder {
	return &Builder{
		ledgerDir: ".mintage-cache",
		config:    DefaultConfig(),
	}
}

// ConfigFrom maps the application configuration onto pipeline settings
func ConfigFrom(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.Period = cfg.Clustering.Period
	c.Dimensions = cfg.Clustering.Dimensions
	c.Scale = cfg.ModeHunting.Scale
	c.Workers = cfg.ModeHunting.Workers
	c.MinModeSize = cfg.ModeHunting.MinModeSize
	if cfg.Output.PlotDir != "" {
		c.PlotDir = cfg.Output.PlotDir
	}
	c.Timeout = cfg.Timeout()
	return c
}

// WithConfig sets the pipeline configuration
func (b *Builder) WithConfig(config *Config) *Builder {
	b.config = config
	return b
}

// WithParser replaces the default suite parser
func (b *Builder) WithParser(p SuiteParser) *Builder {
	b.parser = p
	return b
}

// WithAligner replaces the default aligner
func (b *Builder) WithAligner(a Aligner) *Builder {
	b.aligner = a
	return b
}

// WithModeHunter replaces the default mode hunter
func (b *Builder) WithModeHunter(h ModeHunter) *Builder {
	b.hunter = h
	return b
}

// WithVisualizer replaces the default cluster report
func (b *Builder) WithVisualizer(v Visualizer) *Builder {
	b.visualizer = v
	b.skipVisualizer = false
	return b
}

// WithoutVisualizer disables rendering regardless of run options
func (b *Builder) WithoutVisualizer() *Builder {
	b.skipVisualizer = true
	return b
}

// WithLedger uses the given ledger instead of opening one
func (b *Builder) WithLedger(l RunLedger) *Builder {
	b.ledger = l
	b.skipLedger = false
	return b
}

// WithLedgerDir sets where the default ledger database lives
func (b *Builder) WithLedgerDir(dir string) *Builder {
	b.ledgerDir = dir
	return b
}

// WithoutLedger disables run recording
func (b *Builder) WithoutLedger() *Builder {
	b.skipLedger = true
	return b
}

// WithProgress sets where step-by-step progress is printed
func (b *Builder) WithProgress(w io.Writer) *Builder {
	b.progress = w
	return b
}

// Build constructs a fully configured Pipeline. The returned close function
// releases a ledger the builder opened itself; it is never nil.
func (b *Builder) Build() (*Pipeline, func() error, error) {
	cfg := b.config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Scale <= 0 {
		return nil, nil, fmt.Errorf("mode hunting scale must be positive, got %v", cfg.Scale)
	}
	if cfg.Workers < 0 {
		return nil, nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	closer := func() error { return nil }

	suiteParser := b.parser
	if suiteParser == nil {
		suiteParser = parser.NewParser(cfg.Dimensions)
	}
	aligner := b.aligner
	if aligner == nil {
		aligner = align.New()
	}
	hunter := b.hunter
	if hunter == nil {
		hunter = modehunt.New(cfg.MinModeSize, cfg.Period)
	}

	var visualizer Visualizer
	if !b.skipVisualizer {
		visualizer = b.visualizer
		if visualizer == nil {
			visualizer = render.NewClusterReport()
		}
	}

	// Initialize ledger (optional)
	var ledger RunLedger
	if !b.skipLedger {
		ledger = b.ledger
		if ledger == nil {
			s, err := store.NewStore(b.ledgerDir)
			if err != nil {
				// Non-fatal: log warning and continue without ledger
				logger.Warn("Failed to open run ledger", "dir", b.ledgerDir, "error", err)
			} else {
				ledger = s
				closer = s.Close
			}
		}
	}

	pipeline := NewPipeline(suiteParser, aligner, hunter, visualizer, ledger, cfg)
	if b.progress != nil {
		pipeline.SetProgress(b.progress)
	}
	return pipeline, closer, nil
}
