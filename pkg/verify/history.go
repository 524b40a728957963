package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/macforge/macforge/pkg/stores"
)

// Record persists the report and its check results.
func (r *Report) Record(ctx context.Context, history stores.HistoryStore, runID *string) error {
	names := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		names[i] = string(c)
	}

	v := &stores.Verification{
		ID:          r.ID,
		RunID:       runID,
		Categories:  strings.Join(names, ","),
		Total:       r.Summary.Total,
		Passed:      r.Summary.Passed,
		Warned:      r.Summary.Warned,
		Failed:      r.Summary.Failed,
		SuccessRate: r.Summary.SuccessRate,
		Overall:     string(r.Summary.Overall),
		StartedAt:   r.StartedAt,
	}
	checks := make([]*stores.CheckRecord, len(r.Results))
	for i, res := range r.Results {
		checks[i] = &stores.CheckRecord{
			VerificationID: r.ID,
			Position:       i,
			Category:       string(res.Category),
			Name:           res.Name,
			Message:        res.Message,
			Status:         string(res.Status),
		}
	}

	if err := history.RecordVerification(ctx, v, checks); err != nil {
		return fmt.Errorf("failed to record verification: %w", err)
	}
	return nil
}
