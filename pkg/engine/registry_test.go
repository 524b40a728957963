package engine

import (
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		specs   []ModuleSpec
		wantErr bool
	}{
		{
			name:  "empty",
			specs: nil,
		},
		{
			name: "valid chain",
			specs: []ModuleSpec{
				{Ordinal: 1, Name: "preflight"},
				{Ordinal: 2, Name: "homebrew", Requires: []string{"preflight"}},
				{Ordinal: 5, Name: "macos", Requires: []string{"preflight", "homebrew"}},
			},
		},
		{
			name:    "empty name",
			specs:   []ModuleSpec{{Ordinal: 1, Name: " "}},
			wantErr: true,
		},
		{
			name:    "duplicate name",
			specs:   []ModuleSpec{{Ordinal: 1, Name: "a"}, {Ordinal: 2, Name: "a"}},
			wantErr: true,
		},
		{
			name:    "ordinals not increasing",
			specs:   []ModuleSpec{{Ordinal: 2, Name: "a"}, {Ordinal: 2, Name: "b"}},
			wantErr: true,
		},
		{
			name:    "unknown requirement",
			specs:   []ModuleSpec{{Ordinal: 1, Name: "a", Requires: []string{"ghost"}}},
			wantErr: true,
		},
		{
			name: "requirement runs later",
			specs: []ModuleSpec{
				{Ordinal: 1, Name: "a", Requires: []string{"b"}},
				{Ordinal: 2, Name: "b"},
			},
			wantErr: true,
		},
		{
			name:    "self requirement",
			specs:   []ModuleSpec{{Ordinal: 1, Name: "a", Requires: []string{"a"}}},
			wantErr: true,
		},
		{
			name: "duplicate requirement",
			specs: []ModuleSpec{
				{Ordinal: 1, Name: "a"},
				{Ordinal: 2, Name: "b", Requires: []string{"a", "a"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mods := make([]Module, len(tt.specs))
			for i, s := range tt.specs {
				mods[i] = &fakeModule{spec: s}
			}
			err := Validate(mods)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && ClassOf(err) != ErrorClassFatal {
				t.Errorf("Expected fatal class, got %s", ClassOf(err))
			}
		})
	}
}

func TestSelect(t *testing.T) {
	mods := []Module{
		&fakeModule{spec: ModuleSpec{Ordinal: 1, Name: "preflight"}},
		&fakeModule{spec: ModuleSpec{Ordinal: 2, Name: "homebrew", Requires: []string{"preflight"}}},
		&fakeModule{spec: ModuleSpec{Ordinal: 3, Name: "ssh"}},
		&fakeModule{spec: ModuleSpec{Ordinal: 4, Name: "dotfiles", Requires: []string{"homebrew"}}},
	}

	t.Run("canonical order", func(t *testing.T) {
		got, err := Select(mods, []string{"dotfiles", "preflight"}, false)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if names := Names(got); !equalStrings(names, []string{"preflight", "dotfiles"}) {
			t.Errorf("Expected [preflight dotfiles], got %v", names)
		}
	})

	t.Run("with requirements", func(t *testing.T) {
		got, err := Select(mods, []string{"dotfiles"}, true)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if names := Names(got); !equalStrings(names, []string{"preflight", "homebrew", "dotfiles"}) {
			t.Errorf("Expected transitive requirements, got %v", names)
		}
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		got, err := Select(mods, []string{"ssh", "ssh"}, false)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("Expected 1 module, got %d", len(got))
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := Select(mods, []string{"nope"}, false)
		if err == nil {
			t.Fatal("Expected error for unknown module")
		}
	})
}
