// Package privilege keeps administrator credentials warm while a module
// that declared administrator access is running.
package privilege

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/macforge/macforge/pkg/system"
)

// DefaultInterval is how often the keepalive refreshes the sudo timestamp.
const DefaultInterval = 60 * time.Second

const (
	markerPrefix = "keepalive-"
	markerSuffix = ".pid"
)

// ErrEscalationFailed is returned when the initial sudo prompt fails.
var ErrEscalationFailed = errors.New("administrator authentication failed")

// Supervisor owns at most one keepalive goroutine per process.
type Supervisor struct {
	runner   system.Runner
	dir      string
	interval time.Duration
	logger   zerolog.Logger
	pid      int
	process  string

	// Swappable for tests.
	alive  func(pid int) bool
	signal func(pid int, sig syscall.Signal) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithInterval sets the refresh interval.
func WithInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the supervisor's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Supervisor) { s.logger = l.With().Str("component", "privilege").Logger() }
}

// WithPID overrides the pid used to name this process's marker.
func WithPID(pid int) Option {
	return func(s *Supervisor) { s.pid = pid }
}

// WithProcessName sets the executable name an orphan must match before it
// is signalled.
func WithProcessName(name string) Option {
	return func(s *Supervisor) { s.process = name }
}

// NewSupervisor creates a supervisor that keeps its pid markers in dir.
func NewSupervisor(runner system.Runner, dir string, opts ...Option) *Supervisor {
	s := &Supervisor{
		runner:   runner,
		dir:      dir,
		interval: DefaultInterval,
		logger:   zerolog.Nop(),
		pid:      os.Getpid(),
		process:  filepath.Base(os.Args[0]),
		alive:    processAlive,
		signal:   syscall.Kill,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MarkerPath returns the marker file for pid.
func MarkerPath(dir string, pid int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d%s", markerPrefix, pid, markerSuffix))
}

// Active reports whether the keepalive is running.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Escalate authenticates once and starts the keepalive. It is a no-op while
// the keepalive is already running.
func (s *Supervisor) Escalate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return nil
	}

	s.logger.Info().Msg("Requesting administrator access")
	if err := s.runner.RunInteractive(ctx, "sudo", "-v"); err != nil {
		return fmt.Errorf("%w: %v", ErrEscalationFailed, err)
	}

	if err := s.writeMarker(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write keepalive marker")
	}

	kctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.keepalive(kctx, done)

	s.logger.Debug().Dur("interval", s.interval).Msg("Keepalive started")
	return nil
}

// Release stops the keepalive and waits for it to exit. Safe to call any
// number of times.
func (s *Supervisor) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	if err := os.Remove(MarkerPath(s.dir, s.pid)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Msg("Failed to remove keepalive marker")
	}
	s.logger.Debug().Msg("Keepalive stopped")
}

func (s *Supervisor) keepalive(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.runner.Run(ctx, "sudo", "-n", "-v")
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.logger.Warn().Err(err).Msg("Keepalive refresh failed")
				continue
			}
			if !res.Success() {
				s.logger.Warn().Int("exit_code", res.ExitCode).Str("stderr", res.Stderr).
					Msg("Keepalive refresh rejected")
			}
		}
	}
}

func (s *Supervisor) writeMarker() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}
	path := MarkerPath(s.dir, s.pid)
	if err := os.WriteFile(path, []byte(strconv.Itoa(s.pid)+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}
	return nil
}

// ReapOrphans terminates keepalives left behind by other processes and
// removes their markers. It returns how many processes were signalled.
func (s *Supervisor) ReapOrphans(ctx context.Context) (int, error) {
	markers, err := filepath.Glob(filepath.Join(s.dir, markerPrefix+"*"+markerSuffix))
	if err != nil {
		return 0, fmt.Errorf("failed to list keepalive markers: %w", err)
	}

	var (
		reaped int
		errs   []error
	)
	for _, path := range markers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		pid, ok := parseMarker(filepath.Base(path))
		if !ok {
			s.logger.Debug().Str("marker", path).Msg("Ignoring malformed keepalive marker")
			continue
		}
		if pid == s.pid {
			continue
		}

		if s.alive(pid) && s.ownedProcess(ctx, pid) {
			if err := s.signal(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
				errs = append(errs, fmt.Errorf("failed to terminate pid %d: %w", pid, err))
				continue
			}
			s.logger.Info().Int("pid", pid).Msg("Terminated orphaned keepalive")
			reaped++
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to remove marker %s: %w", path, err))
		}
	}

	return reaped, errors.Join(errs...)
}

// ownedProcess guards against pid reuse by checking the process name.
func (s *Supervisor) ownedProcess(ctx context.Context, pid int) bool {
	if s.process == "" {
		return true
	}
	res, err := s.runner.Run(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "comm=")
	if err != nil || !res.Success() {
		return false
	}
	return filepath.Base(strings.TrimSpace(res.Stdout)) == s.process
}

func parseMarker(name string) (int, bool) {
	if !strings.HasPrefix(name, markerPrefix) || !strings.HasSuffix(name, markerSuffix) {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, markerPrefix), markerSuffix))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
