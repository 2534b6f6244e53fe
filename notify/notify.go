// Package notify provides the Orchestrator's optional human-review
// notification hook: when a workflow's final routing decision requires a
// human (pause/escalate/block), a HITLNotifier is given the chance to page
// someone. spec.md §4.10 only specifies that such decisions set
// requiresHitl on the response; pushing a notification out-of-band is an
// ambient enrichment rather than a named operation, so it is wired as an
// optional dependency the Orchestrator no-ops without.
package notify

import (
	"context"

	"github.com/sflowg-labs/deliverable-workflows/riskrules"
)

// HITLNotifier is notified whenever a workflow's routing decision requires
// human review.
type HITLNotifier interface {
	NotifyRequiresReview(ctx context.Context, executionID, schemaKey string, eval riskrules.WorkflowEvaluationResult) error
}
