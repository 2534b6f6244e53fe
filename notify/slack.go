package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/sflowg-labs/deliverable-workflows/riskrules"
)

// SlackNotifier posts a message to a fixed channel whenever a workflow is
// routed to human review, using slack-go/slack's chat.postMessage client —
// present in the supporting corpus's go.mod (jordigilh-kubernaut) for the
// same "page a human when automation defers" purpose, though that repo
// never wires it into a concrete call site itself.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier builds a notifier posting to channel using token.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

// NotifyRequiresReview implements HITLNotifier.
func (n *SlackNotifier) NotifyRequiresReview(ctx context.Context, executionID, schemaKey string, eval riskrules.WorkflowEvaluationResult) error {
	text := fmt.Sprintf(
		"workflow %s execution %s requires review: decision=%s risk=%.2f — %s",
		schemaKey, executionID, eval.FinalRoutingDecision, eval.FinalRiskScore, eval.SummaryMessage,
	)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	return err
}
