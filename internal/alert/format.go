package alert

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/actiongate/internal/model"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event Event) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Tenant:* %s", event.TenantID)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Actor:* %s", event.ActorID)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Action:* %s", event.Action)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
	}
	if event.Amount != nil {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Amount:* %s", model.FormatNumber(*event.Amount))})
	}
	if event.ProposalID != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Proposal:* `%s`", event.ProposalID)})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("actiongate: %s", event.Kind),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("actiongate %s: %s (%s)", event.Kind, event.Action, event.TenantID),
			"severity": severityFor(event.Kind),
			"source":   "actiongate",
			"custom_details": map[string]any{
				"tenant_id":   event.TenantID,
				"actor_id":    event.ActorID,
				"action":      event.Action,
				"reason":      event.Reason,
				"proposal_id": event.ProposalID,
			},
		},
	}
	return json.Marshal(payload)
}

func severityFor(kind string) string {
	switch kind {
	case "failure":
		return "error"
	case "denial":
		return "warning"
	default:
		return "info"
	}
}
