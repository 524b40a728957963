package verify

import (
	"fmt"
	"sync"
)

// Status classifies a single check.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Category Category `json:"category"`
	Name     string   `json:"name"`
	Message  string   `json:"message"`
	Status   Status   `json:"status"`
}

// Summary is a projection over recorded results.
type Summary struct {
	Total       int      `json:"total"`
	Passed      int      `json:"passed"`
	Warned      int      `json:"warned"`
	Failed      int      `json:"failed"`
	SuccessRate int      `json:"success_rate"`
	Overall     Status   `json:"overall"`
	Warnings    []string `json:"warnings"`
	Failures    []string `json:"failures"`
}

// Empty reports whether no checks ran.
func (s Summary) Empty() bool {
	return s.Total == 0
}

// ExitCode is 1 when any check failed.
func (s Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

// Aggregator collects check results for one verification pass. Results are
// append-only until Reset is called.
type Aggregator struct {
	mu      sync.Mutex
	results []CheckResult
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Record appends a result.
func (a *Aggregator) Record(r CheckResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
}

// Pass records a passing check.
func (a *Aggregator) Pass(category Category, name, message string) {
	a.Record(CheckResult{Category: category, Name: name, Message: message, Status: StatusPass})
}

// Warn records a degraded check.
func (a *Aggregator) Warn(category Category, name, message string) {
	a.Record(CheckResult{Category: category, Name: name, Message: message, Status: StatusWarn})
}

// Fail records a failed check.
func (a *Aggregator) Fail(category Category, name, message string) {
	a.Record(CheckResult{Category: category, Name: name, Message: message, Status: StatusFail})
}

// Merge appends every result of other, in order.
func (a *Aggregator) Merge(other *Aggregator) {
	for _, r := range other.Results() {
		a.Record(r)
	}
}

// Results returns a copy of the recorded results.
func (a *Aggregator) Results() []CheckResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]CheckResult, len(a.results))
	copy(out, a.results)
	return out
}

// Reset clears every recorded result.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = nil
}

// Summarize computes counts, the success rate and the overall status. It
// does not modify the aggregator.
func (a *Aggregator) Summarize() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		Overall:  StatusPass,
		Warnings: []string{},
		Failures: []string{},
	}
	for _, r := range a.results {
		s.Total++
		switch r.Status {
		case StatusPass:
			s.Passed++
		case StatusWarn:
			s.Warned++
			s.Warnings = append(s.Warnings, describe(r))
		default:
			s.Failed++
			s.Failures = append(s.Failures, describe(r))
		}
	}

	if s.Total > 0 {
		s.SuccessRate = s.Passed * 100 / s.Total
	}
	switch {
	case s.Failed > 0:
		s.Overall = StatusFail
	case s.Warned > 0:
		s.Overall = StatusWarn
	}
	return s
}

func describe(r CheckResult) string {
	if r.Message == "" {
		return r.Name
	}
	return fmt.Sprintf("%s: %s", r.Name, r.Message)
}
