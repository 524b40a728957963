package verify

import (
	"strings"
)

// Suggestion pairs an outstanding item with the command that likely fixes it.
type Suggestion struct {
	Item    string `json:"item"`
	Command string `json:"command"`
}

// remediations are matched in order against lowercased item text; the
// first keyword found wins.
var remediations = []struct {
	keyword string
	command string
}{
	{"command line tools", "xcode-select --install"},
	{"xcode", "xcode-select --install"},
	{"homebrew", "macforge run homebrew"},
	{"brew doctor", "brew doctor"},
	{"formulae", "macforge run homebrew"},
	{"dev tools", "macforge run homebrew"},
	{"casks", "macforge run homebrew"},
	{"taps", "macforge run homebrew"},
	{"filevault", "sudo fdesetup enable"},
	{"firewall", "sudo /usr/libexec/ApplicationFirewall/socketfilterfw --setglobalstate on"},
	{"gatekeeper", "sudo spctl --master-enable"},
	{"system integrity", "csrutil enable (from Recovery)"},
	{"identityagent", "macforge run ssh"},
	{"agent socket", "open -a 1Password && macforge run ssh"},
	{"ssh", "macforge run ssh"},
	{"git user.name", "git config --global user.name \"Your Name\""},
	{"git user.email", "git config --global user.email you@example.com"},
	{"dotfiles", "macforge run dotfiles"},
	{"mackup config", "macforge run mackup"},
	{"mackup backup", "mackup backup"},
	{"mackup", "brew install mackup && macforge run mackup"},
	{"icloud", "Sign in to iCloud and enable iCloud Drive in System Settings"},
	{"network", "Check your network connection"},
	{"unreachable", "Check your network connection"},
	{"com.apple", "macforge run macos"},
	{"nsglobaldomain", "macforge run macos"},
	{"keepalive", "macforge reset"},
	{"session", "macforge reset && macforge"},
	{"incomplete", "macforge --resume"},
}

// Suggest returns a remediation command for text, or "".
func Suggest(text string) string {
	lower := strings.ToLower(text)
	for _, r := range remediations {
		if strings.Contains(lower, r.keyword) {
			return r.command
		}
	}
	return ""
}

// Suggestions returns a suggestion for every failure and warning in the
// summary, failures first.
func Suggestions(s Summary) []Suggestion {
	out := make([]Suggestion, 0, len(s.Failures)+len(s.Warnings))
	for _, items := range [][]string{s.Failures, s.Warnings} {
		for _, item := range items {
			out = append(out, Suggestion{Item: item, Command: Suggest(item)})
		}
	}
	return out
}
