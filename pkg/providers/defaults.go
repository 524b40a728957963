package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/macforge/macforge/pkg/config"
	"github.com/macforge/macforge/pkg/system"
)

// Defaults drives the macOS defaults command.
type Defaults struct {
	runner system.Runner
}

// NewDefaults creates a defaults provider.
func NewDefaults(runner system.Runner) *Defaults {
	return &Defaults{runner: runner}
}

// Read returns the current value of domain/key. A missing key is reported
// through the boolean, not as an error.
func (d *Defaults) Read(ctx context.Context, domain, key string) (string, bool, error) {
	res, err := d.runner.Run(ctx, "defaults", "read", domain, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s %s: %w", domain, key, err)
	}
	if !res.Success() {
		return "", false, nil
	}
	return res.Output(), true, nil
}

// Write sets a typed value.
func (d *Defaults) Write(ctx context.Context, entry config.DefaultsEntry) error {
	res, err := d.runner.Run(ctx, "defaults", "write", entry.Domain, entry.Key, "-"+entry.Type, entry.Value)
	return commandError(fmt.Sprintf("write %s %s", entry.Domain, entry.Key), res, err)
}

// Export saves the whole domain as a property list at path.
func (d *Defaults) Export(ctx context.Context, domain, path string) error {
	res, err := d.runner.Run(ctx, "defaults", "export", domain, path)
	return commandError("export "+domain, res, err)
}

// SameValue compares a value read back from defaults with the configured
// one. Booleans read back as 1 or 0.
func SameValue(typ, current, want string) bool {
	return normalize(typ, current) == normalize(typ, want)
}

func normalize(typ, value string) string {
	v := strings.TrimSpace(value)
	if typ == "bool" {
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			return "1"
		case "0", "false", "no":
			return "0"
		}
	}
	return v
}
