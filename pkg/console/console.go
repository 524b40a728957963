// Package console renders progress and summaries for a terminal.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/stores"
	"github.com/macforge/macforge/pkg/verify"
)

type styles struct {
	title    lipgloss.Style
	subtle   lipgloss.Style
	heading  lipgloss.Style
	pass     lipgloss.Style
	fail     lipgloss.Style
	warn     lipgloss.Style
	step     lipgloss.Style
	selected lipgloss.Style
}

func newStyles(r *lipgloss.Renderer, color bool) styles {
	if !color {
		plain := r.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		title:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		subtle:   r.NewStyle().Foreground(lipgloss.Color("241")),
		heading:  r.NewStyle().Bold(true),
		pass:     r.NewStyle().Foreground(lipgloss.Color("10")),
		fail:     r.NewStyle().Foreground(lipgloss.Color("9")),
		warn:     r.NewStyle().Foreground(lipgloss.Color("11")),
		step:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		selected: r.NewStyle().Foreground(lipgloss.Color("212")),
	}
}

// Printer writes styled lines. It implements engine.Reporter.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	quiet   bool
	s       styles
}

// Option configures a Printer.
type Option func(*printerConfig)

type printerConfig struct {
	color   *bool
	verbose bool
	quiet   bool
}

// WithColor forces color on or off instead of detecting a terminal.
func WithColor(on bool) Option {
	return func(c *printerConfig) { c.color = &on }
}

// WithVerbose includes passing checks' messages in verification output.
func WithVerbose(v bool) Option {
	return func(c *printerConfig) { c.verbose = v }
}

// WithQuiet suppresses progress lines. Summaries are still printed.
func WithQuiet(q bool) Option {
	return func(c *printerConfig) { c.quiet = q }
}

// New returns a Printer writing to w.
func New(w io.Writer, opts ...Option) *Printer {
	var cfg printerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	color := isTerminal(w)
	if cfg.color != nil {
		color = *cfg.color
	}
	return &Printer{
		out:     w,
		verbose: cfg.verbose,
		quiet:   cfg.quiet,
		s:       newStyles(lipgloss.NewRenderer(w), color),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *Printer) progress(icon lipgloss.Style, glyph, msg string) {
	if p.quiet {
		return
	}
	p.line("    %s %s", icon.Render(glyph), msg)
}

func (p *Printer) Info(msg string)    { p.progress(p.s.subtle, "·", msg) }
func (p *Printer) Success(msg string) { p.progress(p.s.pass, "✓", msg) }
func (p *Printer) Warning(msg string) { p.progress(p.s.warn, "⚠", msg) }
func (p *Printer) Error(msg string)   { p.progress(p.s.fail, "✗", msg) }

func (p *Printer) Step(msg string) {
	if p.quiet {
		return
	}
	p.line("\n  %s", p.s.step.Render(msg))
}

// Banner prints the title block shown at the start of a command.
func (p *Printer) Banner(title, subtitle string) {
	p.line("")
	p.line("%s", p.s.title.Render("  "+title))
	if subtitle != "" {
		p.line("%s", p.s.subtle.Render("  "+subtitle))
	}
}

// Pipeline prints the end-of-run summary.
func (p *Printer) Pipeline(o *engine.PipelineOutcome) {
	p.line("")
	switch o.Kind {
	case engine.PipelineCompleted:
		p.line("  %s", p.s.pass.Render(fmt.Sprintf("Setup complete in %s", o.Duration.Round(time.Second))))
	case engine.PipelineHalted:
		p.line("  %s", p.s.fail.Render(fmt.Sprintf("Setup halted at %s", o.Module)))
		if o.Cause != nil {
			p.line("    %s", o.Cause)
		}
	case engine.PipelineCancelled:
		p.line("  %s", p.s.warn.Render("Setup interrupted"))
		if o.Module != "" {
			p.line("    %s", p.s.subtle.Render("Next module: "+o.Module))
		}
	}

	p.line("    %s", p.s.subtle.Render(fmt.Sprintf("%d ran, %d skipped", len(o.Ran), len(o.Skipped))))
	if len(o.Skipped) > 0 && p.verbose {
		p.line("    %s", p.s.subtle.Render("Skipped: "+strings.Join(o.Skipped, ", ")))
	}

	if len(o.Warnings) > 0 {
		p.line("")
		p.line("  %s", p.s.heading.Render("Warnings"))
		for _, w := range o.Warnings {
			p.line("    %s %s: %s", p.s.warn.Render("⚠"), w.Module, w.Details)
			if fix := warningFix(w); fix != "" {
				p.line("      %s %s", p.s.selected.Render("→"), fix)
			}
		}
	}

	if len(o.Remediation) > 0 {
		p.line("")
		p.line("  %s", p.s.heading.Render("To recover"))
		for _, cmd := range o.Remediation {
			p.line("    %s %s", p.s.selected.Render("→"), cmd)
		}
	}
	p.line("")
}

// warningFix prefers the module's own remediation, then a keyword match on
// the details, then re-running the module if it failed.
func warningFix(w engine.ModuleWarning) string {
	if w.Remediation != "" {
		return w.Remediation
	}
	if fix := verify.Suggest(w.Details); fix != "" {
		return fix
	}
	if w.Status == engine.OutcomeFailure {
		return "macforge run " + w.Module
	}
	return ""
}

var statusGlyph = map[verify.Status]string{
	verify.StatusPass: "✓",
	verify.StatusWarn: "⚠",
	verify.StatusFail: "✗",
}

func (p *Printer) statusStyle(s verify.Status) lipgloss.Style {
	switch s {
	case verify.StatusPass:
		return p.s.pass
	case verify.StatusWarn:
		return p.s.warn
	default:
		return p.s.fail
	}
}

// Verification prints check results grouped by category, the summary and
// suggested fixes.
func (p *Printer) Verification(r *verify.Report) {
	var current verify.Category
	for _, res := range r.Results {
		if res.Category != current {
			current = res.Category
			p.line("")
			p.line("  %s", p.s.heading.Render(string(current)))
		}
		detail := res.Name
		if res.Message != "" && (res.Status != verify.StatusPass || p.verbose) {
			detail = fmt.Sprintf("%s: %s", res.Name, res.Message)
		}
		glyph, ok := statusGlyph[res.Status]
		if !ok {
			glyph = "✗"
		}
		p.line("    %s %s", p.statusStyle(res.Status).Render(glyph), detail)
	}

	s := r.Summary
	p.line("")
	switch {
	case s.Empty():
		p.line("  %s", p.s.subtle.Render("No checks run."))
	case s.Passed == s.Total:
		p.line("  %s", p.s.pass.Render(fmt.Sprintf("All %d checks passed.", s.Total)))
	default:
		p.line("  %s", p.s.subtle.Render(fmt.Sprintf("%d/%d checks passed (%d%%), %d warnings, %d failed.",
			s.Passed, s.Total, s.SuccessRate, s.Warned, s.Failed)))
	}

	if suggestions := verify.Suggestions(s); len(suggestions) > 0 {
		p.line("")
		p.line("  %s", p.s.heading.Render("Suggested fixes"))
		for _, sg := range suggestions {
			p.line("    %s %s", p.s.subtle.Render("-"), sg.Item)
			if sg.Command != "" {
				p.line("      %s %s", p.s.selected.Render("→"), sg.Command)
			}
		}
	}
	p.line("")
}

// Modules lists the pipeline with each module's completion state.
func (p *Printer) Modules(mods []engine.Module, session *stores.Session) {
	for _, m := range mods {
		spec := m.Spec()
		mark := p.s.subtle.Render("○")
		if session != nil && session.IsCompleted(spec.Name) {
			mark = p.s.pass.Render("●")
		}
		var tags []string
		if spec.Fatal {
			tags = append(tags, "fatal")
		}
		if spec.RequiresAdmin {
			tags = append(tags, "admin")
		}
		if len(spec.Requires) > 0 {
			tags = append(tags, "requires "+strings.Join(spec.Requires, ","))
		}
		suffix := ""
		if len(tags) > 0 {
			suffix = " " + p.s.subtle.Render("("+strings.Join(tags, "; ")+")")
		}
		p.line("  %s %d. %-10s %s%s", mark, spec.Ordinal, spec.Name, spec.Title, suffix)
	}
}

// Status prints the saved session.
func (p *Printer) Status(session *stores.Session, mods []engine.Module, stateDir string) {
	p.line("  %s %s", p.s.heading.Render("State directory:"), stateDir)
	if session == nil {
		p.line("  %s", p.s.subtle.Render("No session recorded."))
		return
	}
	env := session.Env
	if env.OSVersion != "" || env.Arch != "" {
		p.line("  %s macOS %s (%s)", p.s.heading.Render("Machine:"), env.OSVersion, env.Arch)
	}
	p.line("  %s %s", p.s.heading.Render("Started:"), session.CreatedAt.Local().Format("2006-01-02 15:04"))
	p.line("  %s %s", p.s.heading.Render("Updated:"), session.UpdatedAt.Local().Format("2006-01-02 15:04"))
	p.line("")
	p.Modules(mods, session)
}

// Runs prints run history, newest first.
func (p *Printer) Runs(runs []*stores.Run) {
	if len(runs) == 0 {
		p.line("  %s", p.s.subtle.Render("No runs recorded."))
		return
	}
	for _, r := range runs {
		var st lipgloss.Style
		switch r.Status {
		case stores.RunStatusCompleted:
			st = p.s.pass
		case stores.RunStatusHalted:
			st = p.s.fail
		default:
			st = p.s.warn
		}
		line := fmt.Sprintf("  %s  %-9s %-10s %s", r.StartedAt.Local().Format("2006-01-02 15:04"),
			st.Render(string(r.Status)), r.Command, shortID(r.ID))
		if r.HaltedModule != nil && *r.HaltedModule != "" {
			line += p.s.subtle.Render(" at " + *r.HaltedModule)
		}
		p.line("%s", line)
	}
}

// ModuleRuns prints the per-module results of one run, indented below it.
func (p *Printer) ModuleRuns(mrs []*stores.ModuleRun) {
	for _, mr := range mrs {
		var st lipgloss.Style
		switch mr.Status {
		case stores.ModuleRunSuccess:
			st = p.s.pass
		case stores.ModuleRunFailure:
			st = p.s.fail
		case stores.ModuleRunWarning:
			st = p.s.warn
		default:
			st = p.s.subtle
		}
		line := fmt.Sprintf("      %-10s %s", mr.Module, st.Render(string(mr.Status)))
		if mr.DurationMS > 0 {
			line += p.s.subtle.Render(fmt.Sprintf(" %s", time.Duration(mr.DurationMS)*time.Millisecond))
		}
		if mr.Details != "" {
			line += " " + mr.Details
		}
		p.line("%s", line)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
