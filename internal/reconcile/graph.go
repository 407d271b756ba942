// Package reconcile tracks periodic chain-vs-domain discrepancy reports under
// an explicit status transition graph.
package reconcile

import "contest-engine/internal/domain"

// transitions lists every permitted status edge. Self-loops are explicit;
// anything absent is illegal.
var transitions = map[string][]string{
	domain.ReportPendingReview:  {domain.ReportPendingReview, domain.ReportInReview, domain.ReportNeedsAttention},
	domain.ReportInReview:       {domain.ReportInReview, domain.ReportResolved, domain.ReportNeedsAttention},
	domain.ReportResolved:       {domain.ReportResolved, domain.ReportNeedsAttention},
	domain.ReportNeedsAttention: {domain.ReportNeedsAttention, domain.ReportInReview},
}

// CanTransition reports whether from -> to is a permitted edge.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
