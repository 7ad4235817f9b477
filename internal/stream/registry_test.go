package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
	"github.com/procuresight/procuresight/internal/notification"
)

func event(alertID string) notification.StreamEvent {
	return notification.StreamEvent{AlertID: alertID, Type: models.AlertTypeUnitPriceDelta}
}

func TestRegistry_BroadcastReachesOrgSubscribers(t *testing.T) {
	r := NewRegistry(4, zap.NewNop())
	a := r.Subscribe("org-1")
	b := r.Subscribe("org-1")
	other := r.Subscribe("org-2")
	assert.Equal(t, 3, r.Len())

	r.Broadcast("org-1", event("a-1"))

	require.Len(t, a.C, 1)
	require.Len(t, b.C, 1)
	assert.Empty(t, other.C, "events stay inside their org")
	assert.Equal(t, "a-1", (<-a.C).AlertID)
}

func TestRegistry_UnsubscribeClosesChannel(t *testing.T) {
	r := NewRegistry(4, zap.NewNop())
	sub := r.Subscribe("org-1")

	r.Unsubscribe(sub)
	r.Unsubscribe(sub) // safe to repeat

	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, r.Len())

	// Broadcasting after the subscriber left must not panic.
	r.Broadcast("org-1", event("a-1"))
}

func TestRegistry_SlowSubscriberLosesOnlyItsOwnEvents(t *testing.T) {
	r := NewRegistry(1, zap.NewNop())
	slow := r.Subscribe("org-1")
	fast := r.Subscribe("org-1")

	r.Broadcast("org-1", event("a-1"))
	r.Broadcast("org-1", event("a-2"))

	// The slow subscriber's single-slot queue overflows; the fast one, kept
	// drained, still sees both events.
	assert.Equal(t, "a-1", (<-slow.C).AlertID)
	assert.Empty(t, slow.C)

	assert.Equal(t, "a-1", (<-fast.C).AlertID)
	assert.Equal(t, "a-2", (<-fast.C).AlertID)
}

func TestSink_DeliversToRegistry(t *testing.T) {
	r := NewRegistry(4, zap.NewNop())
	sub := r.Subscribe("org-1")
	sink := NewSink(r)

	alert := models.Alert{
		ID:       "a-1",
		OrgID:    "org-1",
		Type:     models.AlertTypeDuplicateInvoice,
		Severity: models.SeverityMedium,
		Meta:     map[string]any{"invoice_no": "INV-1"},
	}
	require.NoError(t, sink.Deliver(context.Background(), alert))

	got := <-sub.C
	assert.Equal(t, "a-1", got.AlertID)
	assert.Equal(t, "INV-1", got.Meta["invoice_no"])
}
