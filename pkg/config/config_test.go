package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	p := Default()
	if err := p.Validate(); err != nil {
		t.Fatalf("default profile is invalid: %v", err)
	}
	if p.Privilege.KeepaliveInterval != 60*time.Second {
		t.Errorf("expected 60s keepalive, got %s", p.Privilege.KeepaliveInterval)
	}
	if !strings.HasSuffix(p.StateDir, DefaultStateDirName) {
		t.Errorf("unexpected state dir %s", p.StateDir)
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	data := []byte(`
dotfiles:
  repository: git@github.com:me/dotfiles.git
  branch: trunk
homebrew:
  taps: [hashicorp/tap]
  formulae: [git, terraform]
privilege:
  keepalive_interval: 30s
state_dir: ~/custom-state
`)
	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Dotfiles.Repository != "git@github.com:me/dotfiles.git" || p.Dotfiles.Branch != "trunk" {
		t.Errorf("dotfiles not decoded: %+v", p.Dotfiles)
	}
	if len(p.Homebrew.Formulae) != 2 || p.Homebrew.Formulae[1] != "terraform" {
		t.Errorf("formulae not replaced: %v", p.Homebrew.Formulae)
	}
	if len(p.Homebrew.Casks) == 0 {
		t.Error("casks should keep their defaults")
	}
	if p.Privilege.KeepaliveInterval != 30*time.Second {
		t.Errorf("expected 30s keepalive, got %s", p.Privilege.KeepaliveInterval)
	}
	home, _ := os.UserHomeDir()
	if p.StateDir != filepath.Join(home, "custom-state") {
		t.Errorf("state dir not expanded: %s", p.StateDir)
	}
}

func TestParse_Empty(t *testing.T) {
	p, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Mackup.Engine != "icloud" {
		t.Errorf("expected defaults, got engine %q", p.Mackup.Engine)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "bogus: true\n"},
		{"bad defaults type", "macos:\n  defaults:\n    - {domain: d, key: k, type: date, value: x}\n"},
		{"bad bool value", "macos:\n  defaults:\n    - {domain: d, key: k, type: bool, value: maybe}\n"},
		{"bad int value", "macos:\n  defaults:\n    - {domain: d, key: k, type: int, value: ten}\n"},
		{"bad tap", "homebrew:\n  taps: [not-a-tap]\n"},
		{"bad repository", "dotfiles:\n  repository: ftp://example.com/x\n"},
		{"keepalive too short", "privilege:\n  keepalive_interval: 10ms\n"},
		{"bad category", "verify:\n  categories: [everything]\n"},
		{"bad probe", "preflight:\n  network_probe: github.com\n"},
		{"no ssh hosts", "ssh:\n  hosts: []\n"},
		{"bad log level", "telemetry:\n  logging:\n    level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected error, got none")
			}
		})
	}
}

func TestValidateSchema_ReportsDetails(t *testing.T) {
	p := Default()
	p.Homebrew.Taps = []string{"nope"}

	err := ValidateSchema(p)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if schemaErr.Details == "" {
		t.Error("expected schema details")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("explicit file", func(t *testing.T) {
		path := filepath.Join(dir, "profile.yaml")
		if err := os.WriteFile(path, []byte("cleanup:\n  mode: quick\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		p, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if p.Cleanup.Mode != "quick" {
			t.Errorf("expected quick cleanup, got %s", p.Cleanup.Mode)
		}
	})

	t.Run("explicit missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
			t.Error("expected error for missing explicit profile")
		}
	})

	t.Run("env var", func(t *testing.T) {
		path := filepath.Join(dir, "env.yaml")
		if err := os.WriteFile(path, []byte("prompt:\n  assume_defaults: true\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv(ProfileEnvVar, path)
		p, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if !p.Prompt.AssumeDefaults {
			t.Error("expected assume_defaults from env profile")
		}
	})

	t.Run("default location missing", func(t *testing.T) {
		t.Setenv(ProfileEnvVar, "")
		t.Setenv("HOME", t.TempDir())
		p, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if p.Cleanup.Mode != "full" {
			t.Errorf("expected defaults, got mode %s", p.Cleanup.Mode)
		}
	})
}

func TestExpandHome(t *testing.T) {
	tests := []struct{ in, want string }{
		{"~", "/h"},
		{"~/a/b", "/h/a/b"},
		{"/abs", "/abs"},
		{"rel/~", "rel/~"},
		{"~other", "~other"},
	}
	for _, tt := range tests {
		if got := expandHome(tt.in, "/h"); got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	p := Default()
	p.Dotfiles.Repository = "https://github.com/me/dotfiles.git"
	data, err := p.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if back.Dotfiles.Repository != p.Dotfiles.Repository {
		t.Errorf("repository lost in round trip: %q", back.Dotfiles.Repository)
	}
}
