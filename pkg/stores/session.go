package stores

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/macforge/macforge/pkg/system"
	"github.com/rs/zerolog"
)

// File names inside the state directory.
const (
	SessionFile   = "session.env"
	CompletedFile = "completed"
	CacheDir      = "cache"
	HistoryFile   = "history.db"
)

// Session keys persisted in session.env.
const (
	keyArch        = "ARCH"
	keyOSVersion   = "OS_VERSION"
	keyBrewPrefix  = "BREW_PREFIX"
	keyICloudRoot  = "ICLOUD_ROOT"
	keyDotfilesDir = "DOTFILES_DIR"
	keyBackupDir   = "BACKUP_DIR"
	keyReportDir   = "REPORT_DIR"
	keyCreatedAt   = "CREATED_AT"
	keyUpdatedAt   = "UPDATED_AT"
)

var (
	// ErrSessionUnreadable means a session file exists but could not be read or parsed.
	ErrSessionUnreadable = errors.New("session state unreadable")

	// ErrSessionNotOwned means a session file belongs to another user and was ignored.
	ErrSessionNotOwned = errors.New("session state not owned by current user")
)

// Session is the persisted state of the setup pipeline.
type Session struct {
	Env       system.Environment `json:"env"`
	Completed []string           `json:"completed"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewSession returns an empty session stamped with the current time.
func NewSession() *Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &Session{
		Completed: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsCompleted reports whether module has completed in a previous run.
func (s *Session) IsCompleted(module string) bool {
	return slices.Contains(s.Completed, module)
}

// MarkCompleted appends module to the completed list. It returns false if
// the module was already present.
func (s *Session) MarkCompleted(module string) bool {
	if s.IsCompleted(module) {
		return false
	}
	s.Completed = append(s.Completed, module)
	return true
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Completed = slices.Clone(s.Completed)
	return &c
}

// OrphanReaper terminates background helpers left behind by an earlier
// process. The privilege keepalive supervisor implements it.
type OrphanReaper interface {
	ReapOrphans(ctx context.Context) (int, error)
}

// FileStore keeps the session in plain files under a state directory.
type FileStore struct {
	dir     string
	uid     int
	reapers []OrphanReaper
	logger  zerolog.Logger
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithReaper registers a reaper invoked by Reset.
func WithReaper(r OrphanReaper) FileStoreOption {
	return func(f *FileStore) {
		f.reapers = append(f.reapers, r)
	}
}

// WithOwnerUID overrides the uid session files must belong to.
func WithOwnerUID(uid int) FileStoreOption {
	return func(f *FileStore) {
		f.uid = uid
	}
}

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) FileStoreOption {
	return func(f *FileStore) {
		f.logger = logger
	}
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string, opts ...FileStoreOption) *FileStore {
	f := &FileStore{
		dir:    dir,
		uid:    os.Getuid(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Dir returns the state directory.
func (f *FileStore) Dir() string { return f.dir }

// SessionPath returns the path of the key=value session record.
func (f *FileStore) SessionPath() string { return filepath.Join(f.dir, SessionFile) }

// CompletedPath returns the path of the completed-modules record.
func (f *FileStore) CompletedPath() string { return filepath.Join(f.dir, CompletedFile) }

// CachePath returns the cache directory.
func (f *FileStore) CachePath() string { return filepath.Join(f.dir, CacheDir) }

// HistoryPath returns the run history database path.
func (f *FileStore) HistoryPath() string { return filepath.Join(f.dir, HistoryFile) }

// Load reads the session. It always returns a usable session: when the
// files are absent the session is fresh, and when they are unreadable or
// owned by someone else the fresh session is returned together with an
// error describing why the stored one was ignored.
func (f *FileStore) Load(_ context.Context) (*Session, error) {
	session := NewSession()

	values, err := f.readOwned(f.SessionPath())
	if err != nil {
		return session, err
	}
	completed, err := f.readOwned(f.CompletedPath())
	if err != nil {
		return session, err
	}
	if values == nil && completed == nil {
		return session, nil
	}

	if values != nil {
		kv, err := parseKeyValues(values)
		if err != nil {
			return NewSession(), fmt.Errorf("%w: %s: %v", ErrSessionUnreadable, f.SessionPath(), err)
		}
		applyKeyValues(session, kv)
	}

	for _, line := range strings.Split(string(completed), "\n") {
		name := strings.TrimSpace(line)
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		session.MarkCompleted(name)
	}

	return session, nil
}

// readOwned returns the file contents, nil for a missing file, or an
// error when the file is unreadable or owned by another user.
func (f *FileStore) readOwned(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSessionUnreadable, path, err)
	}

	if st, ok := info.Sys().(*syscall.Stat_t); ok && int(st.Uid) != f.uid {
		f.logger.Warn().
			Str("path", path).
			Uint32("owner_uid", st.Uid).
			Int("expected_uid", f.uid).
			Msg("Ignoring session file owned by another user")
		return nil, fmt.Errorf("%w: %s", ErrSessionNotOwned, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSessionUnreadable, path, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Save writes both session records atomically.
func (f *FileStore) Save(_ context.Context, s *Session) error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	s.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}

	if err := system.WriteFileAtomic(f.SessionPath(), encodeSession(s), 0600); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	var buf bytes.Buffer
	for _, name := range s.Completed {
		buf.WriteString(name)
		buf.WriteByte('\n')
	}
	if err := system.WriteFileAtomic(f.CompletedPath(), buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to save completed modules: %w", err)
	}

	return nil
}

// Reset removes the session records and the cache directory, then asks
// every registered reaper to terminate orphaned helpers. The run history
// database is kept.
func (f *FileStore) Reset(ctx context.Context) error {
	var errs []error

	for _, path := range []string{f.SessionPath(), f.CompletedPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
		}
	}
	if err := os.RemoveAll(f.CachePath()); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove cache: %w", err))
	}

	for _, r := range f.reapers {
		n, err := r.ReapOrphans(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to reap orphaned helpers: %w", err))
			continue
		}
		if n > 0 {
			f.logger.Info().Int("count", n).Msg("Terminated orphaned helpers")
		}
	}

	return errors.Join(errs...)
}

func encodeSession(s *Session) []byte {
	var buf bytes.Buffer
	buf.WriteString("# macforge session state\n")
	write := func(key, value string) {
		fmt.Fprintf(&buf, "%s=%s\n", key, strconv.Quote(value))
	}
	write(keyArch, string(s.Env.Arch))
	write(keyOSVersion, s.Env.OSVersion)
	write(keyBrewPrefix, s.Env.BrewPrefix)
	write(keyICloudRoot, s.Env.ICloudRoot)
	write(keyDotfilesDir, s.Env.DotfilesDir)
	write(keyBackupDir, s.Env.BackupDir)
	write(keyReportDir, s.Env.ReportDir)
	write(keyCreatedAt, s.CreatedAt.Format(time.RFC3339))
	write(keyUpdatedAt, s.UpdatedAt.Format(time.RFC3339))
	return buf.Bytes()
}

// parseKeyValues reads KEY=value lines. Values may be Go-quoted.
func parseKeyValues(data []byte) (map[string]string, error) {
	kv := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("line %d: expected KEY=value", lineNo)
		}
		value = strings.TrimSpace(value)
		if strings.HasPrefix(value, `"`) {
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			value = unquoted
		}
		kv[strings.TrimSpace(key)] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return kv, nil
}

func applyKeyValues(s *Session, kv map[string]string) {
	s.Env.Arch = system.ParseArchitecture(kv[keyArch])
	if kv[keyArch] == "" {
		s.Env.Arch = ""
	}
	s.Env.OSVersion = kv[keyOSVersion]
	s.Env.BrewPrefix = kv[keyBrewPrefix]
	s.Env.ICloudRoot = kv[keyICloudRoot]
	s.Env.DotfilesDir = kv[keyDotfilesDir]
	s.Env.BackupDir = kv[keyBackupDir]
	s.Env.ReportDir = kv[keyReportDir]
	if t, err := time.Parse(time.RFC3339, kv[keyCreatedAt]); err == nil {
		s.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, kv[keyUpdatedAt]); err == nil {
		s.UpdatedAt = t
	}
}
