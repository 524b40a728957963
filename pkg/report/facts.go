package report

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/macforge/macforge/pkg/providers"
	"github.com/macforge/macforge/pkg/stores"
	"github.com/macforge/macforge/pkg/system"
)

// ToolVersion is the reported version of one command-line tool.
type ToolVersion struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Facts describes the provisioned machine at report time.
type Facts struct {
	Env         system.Environment `json:"env"`
	Formulae    int                `json:"formulae"`
	Casks       int                `json:"casks"`
	Tools       []ToolVersion      `json:"tools"`
	CollectedAt time.Time          `json:"collected_at"`
	Duration    time.Duration      `json:"duration"`
}

// DefaultTools are queried for versions.
var DefaultTools = []string{"git", "zsh", "mackup"}

// Collector gathers facts and optionally records them in the run history.
type Collector struct {
	runner   system.Runner
	packages providers.PackageManager
	history  stores.HistoryStore
	tools    []string
	logger   zerolog.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithHistory stores each collected fact.
func WithHistory(h stores.HistoryStore) CollectorOption {
	return func(c *Collector) { c.history = h }
}

// WithTools replaces the tools whose versions are collected.
func WithTools(tools ...string) CollectorOption {
	return func(c *Collector) { c.tools = tools }
}

// WithLogger sets the collector's logger.
func WithLogger(l zerolog.Logger) CollectorOption {
	return func(c *Collector) { c.logger = l }
}

// NewCollector creates a collector. packages may be nil when Homebrew is
// not installed.
func NewCollector(runner system.Runner, packages providers.PackageManager, opts ...CollectorOption) *Collector {
	c := &Collector{
		runner:   runner,
		packages: packages,
		tools:    DefaultTools,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect gathers facts for env. Individual probes that fail are logged
// and left blank.
func (c *Collector) Collect(ctx context.Context, env system.Environment, runID *string) *Facts {
	start := time.Now()
	facts := &Facts{Env: env, Tools: make([]ToolVersion, 0, len(c.tools)+1)}

	if c.packages != nil && c.packages.Available() {
		if v, err := c.packages.Version(ctx); err == nil {
			facts.Tools = append(facts.Tools, ToolVersion{Name: "brew", Version: v})
		} else {
			c.logger.Debug().Err(err).Msg("Failed to read brew version")
		}
		if set, err := c.packages.Installed(ctx, providers.KindFormula); err == nil {
			facts.Formulae = len(set)
		}
		if set, err := c.packages.Installed(ctx, providers.KindCask); err == nil {
			facts.Casks = len(set)
		}
	}

	for _, tool := range c.tools {
		facts.Tools = append(facts.Tools, ToolVersion{Name: tool, Version: c.version(ctx, tool)})
	}

	facts.CollectedAt = time.Now()
	facts.Duration = facts.CollectedAt.Sub(start)

	c.logger.Debug().
		Int("tools", len(facts.Tools)).
		Dur("duration", facts.Duration).
		Msg("Facts collection completed")

	c.store(ctx, facts, runID)
	return facts
}

func (c *Collector) version(ctx context.Context, tool string) string {
	if _, err := c.runner.LookPath(tool); err != nil {
		return "not installed"
	}
	res, err := c.runner.Run(ctx, tool, "--version")
	if err != nil || !res.Success() {
		return "unknown"
	}
	out := res.Output()
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return strings.TrimSpace(out)
}

func (c *Collector) store(ctx context.Context, facts *Facts, runID *string) {
	if c.history == nil {
		return
	}
	put := func(namespace, key, value string) {
		if err := c.history.UpsertFact(ctx, &stores.Fact{
			Namespace: namespace, Key: key, Value: value, RunID: runID,
		}); err != nil {
			c.logger.Debug().Err(err).Str("fact", namespace+"."+key).Msg("Failed to store fact")
		}
	}
	for _, t := range facts.Tools {
		put("tools", t.Name, t.Version)
	}
	put("packages", "formulae", strconv.Itoa(facts.Formulae))
	put("packages", "casks", strconv.Itoa(facts.Casks))
}
