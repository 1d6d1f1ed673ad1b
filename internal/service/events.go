package service

import "context"

// Event types published after a unit of work commits.
const (
	EventApprovalRequested  = "approval_requested"
	EventSuspiciousActivity = "suspicious_activity"
	EventApprovalApproved   = "approval_approved"
	EventApprovalRejected   = "approval_rejected"
)

// EventPublisher fans events out to other services. Implementations must
// not block for long and must swallow their own failures.
type EventPublisher interface {
	PublishApprovalEvent(ctx context.Context, eventType, resourceType, resourceID, actorID string, recipients []string, payload map[string]any)
}

type nopPublisher struct{}

func (nopPublisher) PublishApprovalEvent(context.Context, string, string, string, string, []string, map[string]any) {
}

type pendingEvent struct {
	eventType    string
	resourceType string
	resourceID   string
	actorID      string
	recipients   []string
	payload      map[string]any
}

// eventBatch collects events inside a unit of work so they are only
// published once it commits.
type eventBatch struct {
	events []pendingEvent
}

func (b *eventBatch) add(e pendingEvent) {
	b.events = append(b.events, e)
}

func (b *eventBatch) publish(ctx context.Context, p EventPublisher) {
	for _, e := range b.events {
		p.PublishApprovalEvent(ctx, e.eventType, e.resourceType, e.resourceID, e.actorID, e.recipients, e.payload)
	}
}

func recipients(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
