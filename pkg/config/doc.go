// Package config loads the macforge profile.
//
// A profile is a YAML document decoded over Default(), so a file only has
// to name what it changes. After decoding, leading ~ in paths is expanded
// and the result is checked twice: struct tags through validator, then the
// whole document through the embedded CUE schema (profile.cue), which also
// enforces value formats such as tap names and defaults value types.
//
// The profile is located by ResolvePath: an explicit --config flag, then
// $MACFORGE_PROFILE, then ~/.config/macforge/profile.yaml. A missing file at
// the default location is not an error.
//
// Example profile:
//
//	dotfiles:
//	  repository: git@github.com:me/dotfiles.git
//	homebrew:
//	  taps: [hashicorp/tap]
//	  formulae: [git, terraform]
//	  casks: [1password]
//	macos:
//	  defaults:
//	    - {domain: com.apple.dock, key: autohide, type: bool, value: "true", restart: Dock}
//	privilege:
//	  keepalive_interval: 60s
package config
