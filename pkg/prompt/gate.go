// Package prompt asks the user yes/no questions without ever blocking a
// non-interactive run.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// MaxAttempts is how often an unrecognised line answer is re-asked before
// falling back to the default.
const MaxAttempts = 3

// Gate answers Confirm questions interactively, from a line reader, or with
// the default when no terminal is attached.
type Gate struct {
	mu             sync.Mutex
	interactive    bool
	assumeDefaults bool
	timeout        time.Duration
	reader         *bufio.Reader
	out            io.Writer
	notify         func(string)
	form           func(question string, value *bool, timeout time.Duration) error
	pending        chan lineResult
}

type lineResult struct {
	line string
	err  error
}

// Option configures a Gate.
type Option func(*Gate)

// WithAssumeDefaults answers every question with its default.
func WithAssumeDefaults(assume bool) Option {
	return func(g *Gate) { g.assumeDefaults = assume }
}

// WithTimeout resolves unanswered questions to their default after d.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) { g.timeout = d }
}

// WithReader reads answers line by line from r instead of a terminal form.
func WithReader(r io.Reader) Option {
	return func(g *Gate) {
		g.reader = bufio.NewReader(r)
		g.interactive = true
	}
}

// WithOutput sets where questions are printed in line mode.
func WithOutput(w io.Writer) Option {
	return func(g *Gate) { g.out = w }
}

// WithNotifier receives the informational notice emitted when a default is
// used without asking.
func WithNotifier(fn func(string)) Option {
	return func(g *Gate) { g.notify = fn }
}

// WithInteractive overrides terminal detection.
func WithInteractive(interactive bool) Option {
	return func(g *Gate) { g.interactive = interactive }
}

// New creates a Gate. Interactivity is detected from stdin.
func New(opts ...Option) *Gate {
	g := &Gate{
		interactive: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
		out:         os.Stderr,
		form:        runConfirmForm,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.notify == nil {
		g.notify = func(msg string) { fmt.Fprintln(g.out, noticeStyle.Render("  "+msg)) }
	}
	return g
}

// Interactive reports whether the gate will actually ask.
func (g *Gate) Interactive() bool {
	return g.interactive && !g.assumeDefaults
}

// Confirm asks question and returns the answer. Without a terminal, with
// assume-defaults, on timeout or on abort it returns defaultAnswer.
func (g *Gate) Confirm(question string, defaultAnswer bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.Interactive() {
		g.notify(fmt.Sprintf("%s %s (non-interactive)", question, answerLabel(defaultAnswer)))
		return defaultAnswer
	}
	if g.reader != nil {
		return g.confirmLine(question, defaultAnswer)
	}

	value := defaultAnswer
	if err := g.form(question, &value, g.timeout); err != nil {
		switch {
		case errors.Is(err, huh.ErrTimeout):
			g.notify(fmt.Sprintf("No answer, using default: %s", answerLabel(defaultAnswer)))
		case errors.Is(err, huh.ErrUserAborted):
			g.notify(fmt.Sprintf("Aborted, using default: %s", answerLabel(defaultAnswer)))
		default:
			g.notify(fmt.Sprintf("Prompt failed (%v), using default: %s", err, answerLabel(defaultAnswer)))
		}
		return defaultAnswer
	}
	return value
}

func (g *Gate) confirmLine(question string, defaultAnswer bool) bool {
	hint := "[y/N]"
	if defaultAnswer {
		hint = "[Y/n]"
	}

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		fmt.Fprintf(g.out, "%s %s ", question, hint)

		line, ok := g.readLine()
		if !ok {
			fmt.Fprintln(g.out)
			return defaultAnswer
		}
		answer, valid := ParseAnswer(line, defaultAnswer)
		if valid {
			return answer
		}
		fmt.Fprintln(g.out, "Please answer y or n.")
	}
	g.notify(fmt.Sprintf("No valid answer, using default: %s", answerLabel(defaultAnswer)))
	return defaultAnswer
}

// readLine reads one line, honouring the timeout. It returns false on EOF,
// read error or timeout. A read abandoned by a timeout is picked up by the
// next question.
func (g *Gate) readLine() (string, bool) {
	if g.pending == nil {
		ch := make(chan lineResult, 1)
		go func() {
			line, err := g.reader.ReadString('\n')
			ch <- lineResult{line, err}
		}()
		g.pending = ch
	}

	var timeout <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-g.pending:
		g.pending = nil
		if r.err != nil && r.line == "" {
			return "", false
		}
		return r.line, true
	case <-timeout:
		return "", false
	}
}

// ParseAnswer interprets a typed answer. Empty input selects the default.
func ParseAnswer(input string, defaultAnswer bool) (answer, valid bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "":
		return defaultAnswer, true
	case "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	default:
		return defaultAnswer, false
	}
}

func answerLabel(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

var noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

func runConfirmForm(question string, value *bool, timeout time.Duration) error {
	confirm := huh.NewConfirm().
		Title(question).
		Affirmative("Yes").
		Negative("No").
		Value(value)

	form := huh.NewForm(huh.NewGroup(confirm)).WithTheme(theme())
	if timeout > 0 {
		form = form.WithTimeout(timeout)
	}
	return form.Run()
}

func theme() *huh.Theme {
	t := huh.ThemeCharm()
	t.Focused.Base = lipgloss.NewStyle().PaddingLeft(2)
	t.Blurred.Base = lipgloss.NewStyle().PaddingLeft(2)
	t.Focused.Description = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	return t
}
