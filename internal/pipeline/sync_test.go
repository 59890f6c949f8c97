package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printforge/printq-cli/internal/model"
	"github.com/printforge/printq-cli/internal/store"
	"github.com/printforge/printq-cli/pkg/shipstation"
)

func outboxEntry(orderID int64, platformID string) store.OutboxEntry {
	return store.OutboxEntry{
		Job: model.SyncJob{
			OrderID:         orderID,
			PlatformOrderID: platformID,
			OrderNumber:     "111-2222222-3333333",
			Items: map[string][]model.ItemOption{
				"li-1": {{Name: "Name or Text", Value: "Rex"}},
			},
			AuditNote: "PACKING LIST (Order #111-2222222-3333333):\n1. Rex (Red)",
		},
	}
}

func TestDrainOutbox_SuccessClearsRow(t *testing.T) {
	st := newFakeStore()
	st.outbox = []store.OutboxEntry{outboxEntry(42, "ps-9000")}
	ship := awaitingPlatformOrder()
	p := newTestPipeline(st, &fakeExtractor{}, &fakeEngine{}, ship)

	summary, err := p.DrainOutbox(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, SyncSummary{Attempted: 1, Succeeded: 1}, summary)
	assert.Equal(t, []int64{42}, st.removedOutbox)

	require.Len(t, ship.pushes, 1)
	push := ship.pushes[0]
	assert.Equal(t, "Rex", push.options["li-1"][0].Value)
	// The stored audit body gets the sync stamp appended at push time.
	assert.Contains(t, push.note, "PACKING LIST")
	assert.Contains(t, push.note, "Automated Task Sync")
	assert.Contains(t, push.note, "li-1(AmazonURL)")
}

func TestDrainOutbox_FailureKeepsRowWithError(t *testing.T) {
	st := newFakeStore()
	st.outbox = []store.OutboxEntry{outboxEntry(42, "ps-9000")}
	ship := awaitingPlatformOrder()
	ship.pushErr = eris.New("shipstation: create order: status 502")
	p := newTestPipeline(st, &fakeExtractor{}, &fakeEngine{}, ship)

	summary, err := p.DrainOutbox(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, SyncSummary{Attempted: 1, Failed: 1}, summary)
	assert.Empty(t, st.removedOutbox)
	assert.Contains(t, st.outboxFailures[42], "502")
}

func TestDrainOutbox_FinalizedOrderSkippedAndCleared(t *testing.T) {
	st := newFakeStore()
	st.outbox = []store.OutboxEntry{outboxEntry(42, "ps-9000")}
	ship := &fakeShip{order: &shipstation.Order{OrderID: 9000, OrderStatus: "Cancelled"}}
	p := newTestPipeline(st, &fakeExtractor{}, &fakeEngine{}, ship)

	summary, err := p.DrainOutbox(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, SyncSummary{Attempted: 1, Skipped: 1}, summary)
	assert.Empty(t, ship.pushes)
	assert.Equal(t, []int64{42}, st.removedOutbox)
}

func TestDrainOutbox_FetchErrorCountsAsFailure(t *testing.T) {
	st := newFakeStore()
	st.outbox = []store.OutboxEntry{outboxEntry(42, "ps-9000")}
	ship := &fakeShip{getOrderErr: eris.New("shipstation: get order")}
	p := newTestPipeline(st, &fakeExtractor{}, &fakeEngine{}, ship)

	summary, err := p.DrainOutbox(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, st.outboxFailures[42], "fetch platform order status")
}

func TestDrainOutbox_MissingPlatformIDSkips(t *testing.T) {
	st := newFakeStore()
	st.outbox = []store.OutboxEntry{outboxEntry(42, "")}
	ship := awaitingPlatformOrder()
	p := newTestPipeline(st, &fakeExtractor{}, &fakeEngine{}, ship)

	summary, err := p.DrainOutbox(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, ship.pushes)
}

func TestDrainOutbox_Empty(t *testing.T) {
	p := newTestPipeline(newFakeStore(), &fakeExtractor{}, &fakeEngine{}, &fakeShip{})

	summary, err := p.DrainOutbox(context.Background(), 50)
	require.NoError(t, err)
	assert.Zero(t, summary.Attempted)
}
