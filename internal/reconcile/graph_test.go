package reconcile

import (
	"testing"

	"contest-engine/internal/domain"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{domain.ReportPendingReview, domain.ReportInReview, true},
		{domain.ReportPendingReview, domain.ReportNeedsAttention, true},
		{domain.ReportPendingReview, domain.ReportResolved, false},
		{domain.ReportInReview, domain.ReportResolved, true},
		{domain.ReportInReview, domain.ReportNeedsAttention, true},
		{domain.ReportInReview, domain.ReportPendingReview, false},
		{domain.ReportResolved, domain.ReportNeedsAttention, true},
		{domain.ReportResolved, domain.ReportPendingReview, false},
		{domain.ReportResolved, domain.ReportInReview, false},
		{domain.ReportNeedsAttention, domain.ReportInReview, true},
		{domain.ReportNeedsAttention, domain.ReportPendingReview, false},
		{domain.ReportNeedsAttention, domain.ReportResolved, false},
		// Self-loops are explicit edges.
		{domain.ReportPendingReview, domain.ReportPendingReview, true},
		{domain.ReportInReview, domain.ReportInReview, true},
		{domain.ReportResolved, domain.ReportResolved, true},
		{domain.ReportNeedsAttention, domain.ReportNeedsAttention, true},
		// Unknown statuses have no edges.
		{"bogus", domain.ReportInReview, false},
		{domain.ReportInReview, "bogus", false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
