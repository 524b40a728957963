// Package verify checks that a machine matches its profile.
//
// Checks are grouped into categories (core, packages, security, dev, prefs,
// mackup, state). Every check is read-only: it queries a Probe and returns
// pass, warn or fail, never an error. An Engine runs the selected categories
// concurrently, each into its own Aggregator, and merges them in canonical
// order so that any subset of categories yields the same per-check results
// as a full pass.
//
// The Aggregator is explicit and owned by one verification pass:
//
//	agg := verify.NewAggregator()
//	agg.Pass(verify.CategoryCore, "brew", "available")
//	agg.Fail(verify.CategoryCore, "Xcode Command Line Tools", "not found")
//	s := agg.Summarize() // Total 2, SuccessRate 50, Overall fail
//
// Summaries compute the success rate as floor(passed*100/total). Any fail
// makes the overall status fail; otherwise any warn makes it warn.
package verify
