package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ResolvePath picks the profile location: the explicit path, then
// $MACFORGE_PROFILE, then the default under ~/.config.
func ResolvePath(explicit string) (path string, isExplicit bool) {
	if explicit != "" {
		return ExpandPath(explicit), true
	}
	if env := os.Getenv(ProfileEnvVar); env != "" {
		return ExpandPath(env), true
	}
	return ExpandPath(DefaultProfilePath), false
}

// Load reads the profile from path (resolved with ResolvePath). A missing
// file at the default location yields Default(); a missing file that was
// named explicitly is an error.
func Load(explicit string) (*Profile, error) {
	path, isExplicit := ResolvePath(explicit)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !isExplicit {
			profile := Default()
			return profile, nil
		}
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	profile, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return profile, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Profile, error) {
	profile := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(profile); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	profile.expandPaths()

	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// Validate checks struct tags, the embedded schema and the telemetry settings.
func (p *Profile) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := ValidateSchema(p); err != nil {
		return err
	}
	if err := p.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// Marshal renders the profile as YAML.
func (p *Profile) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

func (p *Profile) expandPaths() {
	for _, s := range []*string{
		&p.StateDir, &p.DotfilesDir, &p.BackupDir, &p.ReportDir,
		&p.SSH.AgentSocket, &p.SSH.ConfigPath, &p.SSH.KnownHosts,
	} {
		*s = ExpandPath(*s)
	}
	for i := range p.Cleanup.TempPaths {
		p.Cleanup.TempPaths[i] = ExpandPath(p.Cleanup.TempPaths[i])
	}
	if p.Telemetry != nil {
		p.Telemetry.Metrics.Textfile = ExpandPath(p.Telemetry.Metrics.Textfile)
		p.Telemetry.Logging.Output = expandOutput(p.Telemetry.Logging.Output)
	}
}

func expandOutput(out string) string {
	if out == "stdout" || out == "stderr" {
		return out
	}
	return ExpandPath(out)
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return expandHome(path, home)
}

func expandHome(path, home string) string {
	switch {
	case path == "~":
		return home
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(home, path[2:])
	default:
		return path
	}
}
