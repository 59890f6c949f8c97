package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printforge/printq-cli/internal/extract"
	"github.com/printforge/printq-cli/internal/model"
	"github.com/printforge/printq-cli/pkg/shipstation"
)

func amazonOrder() *model.Order {
	return &model.Order{
		ID:          42,
		OrderNumber: "111-2222222-3333333",
		PlatformID:  "ps-9000",
		Marketplace: "Amazon US",
		Status:      model.OrderStatusAwaitingShipment,
		Items: []model.OrderItem{
			{
				ID:                  7,
				OrderID:             42,
				ProductID:           100,
				Quantity:            1,
				PlatformLineItemKey: "li-1",
				Product:             &model.Product{ID: 100, SKU: "MUG-CUSTOM", Name: "Custom Mug"},
			},
		},
	}
}

func singleDetail(text string) model.OrderPersonalization {
	return model.OrderPersonalization{
		"7": {Personalizations: []model.PersonalizationDetail{
			{CustomText: text, Color1: "Red", Quantity: 1},
		}},
	}
}

func awaitingPlatformOrder() *fakeShip {
	return &fakeShip{order: &shipstation.Order{
		OrderID:     9000,
		OrderNumber: "111-2222222-3333333",
		OrderStatus: "awaiting_shipment",
	}}
}

func newTestPipeline(st *fakeStore, ex *fakeExtractor, en *fakeEngine, ship *fakeShip) *Pipeline {
	return New(st, ex, en, ship, NewDebugLog(""))
}

func TestSelectOrders_ByInternalID(t *testing.T) {
	st := newFakeStore()
	st.addOrder(amazonOrder())
	p := newTestPipeline(st, &fakeExtractor{}, &fakeEngine{}, &fakeShip{})

	orders, err := p.SelectOrders(context.Background(), Options{OrderID: "42"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(42), orders[0].ID)
}

func TestSelectOrders_DigitsFallThroughToNumber(t *testing.T) {
	st := newFakeStore()
	order := amazonOrder()
	order.OrderNumber = "5551234"
	st.addOrder(order)
	p := newTestPipeline(st, &fakeExtractor{}, &fakeEngine{}, &fakeShip{})

	// All digits, but not an internal ID; the order-number lookup catches it.
	orders, err := p.SelectOrders(context.Background(), Options{OrderID: "5551234"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(42), orders[0].ID)
}

func TestSelectOrders_ByPlatformID(t *testing.T) {
	st := newFakeStore()
	st.addOrder(amazonOrder())
	p := newTestPipeline(st, &fakeExtractor{}, &fakeEngine{}, &fakeShip{})

	orders, err := p.SelectOrders(context.Background(), Options{OrderID: "ps-9000"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestSelectOrders_MissIsEmptyNotError(t *testing.T) {
	p := newTestPipeline(newFakeStore(), &fakeExtractor{}, &fakeEngine{}, &fakeShip{})

	orders, err := p.SelectOrders(context.Background(), Options{OrderID: "does-not-exist"})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestSelectOrders_DefaultFilter(t *testing.T) {
	st := newFakeStore()
	st.pending = []model.Order{*amazonOrder()}
	p := newTestPipeline(st, &fakeExtractor{}, &fakeEngine{}, &fakeShip{})

	orders, err := p.SelectOrders(context.Background(), Options{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestRun_MaterializesAndSyncs(t *testing.T) {
	st := newFakeStore()
	order := amazonOrder()
	st.pending = []model.Order{*order}
	ex := &fakeExtractor{results: map[int64]extract.Result{
		7: {Success: true, DataSource: extract.DataSourceAmazonURL, CustomText: "Rex", Color1: "Red"},
	}}
	en := &fakeEngine{results: map[int64]model.OrderPersonalization{42: singleDetail("Rex")}}
	ship := awaitingPlatformOrder()
	p := newTestPipeline(st, ex, en, ship)

	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, summary.Failed)

	// Tasks and the outbox job commit together.
	require.Len(t, st.materializedTasks, 1)
	require.Len(t, st.materializedTasks[0], 1)
	assert.Equal(t, "Rex", st.materializedTasks[0][0].CustomText)
	require.Len(t, st.materializedJobs, 1)
	job := st.materializedJobs[0]
	require.NotNil(t, job)
	assert.Equal(t, []model.ItemOption{
		{Name: "Name or Text", Value: "Rex"},
		{Name: "Colour 1", Value: "Red"},
	}, job.Items["li-1"])

	// The push ran and the outbox row was cleared.
	require.Len(t, ship.pushes, 1)
	assert.Contains(t, ship.pushes[0].note, "PACKING LIST")
	assert.Contains(t, ship.pushes[0].note, "li-1(AmazonURL)")
	assert.Equal(t, []int64{42}, st.removedOutbox)

	// The engine saw the pre-extraction results.
	assert.True(t, en.lastPre[7].Success)
}

func TestRun_InferenceFailureIsolatesOrder(t *testing.T) {
	st := newFakeStore()
	first := amazonOrder()
	second := amazonOrder()
	second.ID = 43
	second.OrderNumber = "111-2222222-4444444"
	second.Items[0].ID = 9
	second.Items[0].OrderID = 43
	st.pending = []model.Order{*first, *second}

	en := &fakeEngine{
		results: map[int64]model.OrderPersonalization{
			43: {"9": {Personalizations: []model.PersonalizationDetail{{CustomText: "Fido", Quantity: 1}}}},
		},
		errByOrder: map[int64]error{42: eris.New("inference: model call")},
	}
	p := newTestPipeline(st, &fakeExtractor{}, en, awaitingPlatformOrder())

	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []int64{42}, summary.FailedOrderIDs)

	// Zero rows written for the failed order; the second still landed.
	require.Len(t, st.materializedTasks, 1)
	assert.Equal(t, int64(43), st.materializedTasks[0][0].OrderID)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	st := newFakeStore()
	st.pending = []model.Order{*amazonOrder()}
	ex := &fakeExtractor{results: map[int64]extract.Result{
		7: {Success: true, CustomText: "Rex"},
	}}
	en := &fakeEngine{results: map[int64]model.OrderPersonalization{42: singleDetail("Rex")}}
	ship := awaitingPlatformOrder()
	p := newTestPipeline(st, ex, en, ship)

	summary, err := p.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Empty(t, st.materializedTasks)
	assert.Empty(t, ship.pushes)
	require.Len(t, summary.Orders, 1)
	assert.True(t, summary.Orders[0].DryRun)
	assert.Equal(t, 1, summary.Orders[0].TaskCount)
}

func TestRun_MaterializeFailureMarksOrderFailed(t *testing.T) {
	st := newFakeStore()
	st.pending = []model.Order{*amazonOrder()}
	st.materializeErr = eris.New("store: upsert task")
	en := &fakeEngine{results: map[int64]model.OrderPersonalization{42: singleDetail("Rex")}}
	p := newTestPipeline(st, &fakeExtractor{}, en, awaitingPlatformOrder())

	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Orders[0].Error, "upsert task")
}

func TestRun_ShippedOrderGetsZeroPatches(t *testing.T) {
	st := newFakeStore()
	st.pending = []model.Order{*amazonOrder()}
	ex := &fakeExtractor{results: map[int64]extract.Result{
		7: {Success: true, CustomText: "Rex", Color1: "Red"},
	}}
	en := &fakeEngine{results: map[int64]model.OrderPersonalization{42: singleDetail("Rex")}}
	ship := &fakeShip{order: &shipstation.Order{OrderID: 9000, OrderStatus: "shipped"}}
	p := newTestPipeline(st, ex, en, ship)

	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	// Tasks stand; the platform was never patched; nothing left to retry.
	require.Len(t, st.materializedTasks, 1)
	assert.Empty(t, ship.pushes)
	assert.Equal(t, []int64{42}, st.removedOutbox)
}

func TestRun_PushFailureDoesNotFailOrder(t *testing.T) {
	st := newFakeStore()
	st.pending = []model.Order{*amazonOrder()}
	ex := &fakeExtractor{results: map[int64]extract.Result{
		7: {Success: true, CustomText: "Rex"},
	}}
	en := &fakeEngine{results: map[int64]model.OrderPersonalization{42: singleDetail("Rex")}}
	ship := awaitingPlatformOrder()
	ship.pushErr = eris.New("shipstation: create order")
	p := newTestPipeline(st, ex, en, ship)

	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	// The job stays queued for `printq sync`.
	assert.Empty(t, st.removedOutbox)
	assert.Contains(t, st.outboxFailures[42], "push item options")
}

func TestRun_NonAmazonOrderSkipsPreExtractionAndSync(t *testing.T) {
	st := newFakeStore()
	order := amazonOrder()
	order.OrderNumber = "etsy-100"
	order.Marketplace = "Etsy"
	st.pending = []model.Order{*order}
	en := &fakeEngine{results: map[int64]model.OrderPersonalization{42: singleDetail("Rex")}}
	ship := awaitingPlatformOrder()
	p := newTestPipeline(st, &fakeExtractor{results: map[int64]extract.Result{}}, en, ship)

	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Nil(t, en.lastPre)
	require.Len(t, st.materializedJobs, 1)
	assert.Nil(t, st.materializedJobs[0])
	assert.Empty(t, ship.pushes)
}

func TestBuildSyncJob_MissingLineItemKeyOmitsItem(t *testing.T) {
	order := amazonOrder()
	order.Items[0].PlatformLineItemKey = ""
	pre := map[int64]extract.Result{
		7: {Success: true, CustomText: "Rex"},
	}

	assert.Nil(t, buildSyncJob(order, pre, singleDetail("Rex")))
}

func TestBuildSyncJob_FailedExtractionNeverPushed(t *testing.T) {
	order := amazonOrder()
	pre := map[int64]extract.Result{
		7: {Success: false, Annotation: "No CustomizedURL found in print settings."},
	}

	assert.Nil(t, buildSyncJob(order, pre, singleDetail("Rex")))
}

func TestPackingListNote(t *testing.T) {
	order := amazonOrder()
	order.CustomerNotes = "engrave carefully"
	p := model.OrderPersonalization{
		"7": {Personalizations: []model.PersonalizationDetail{
			{CustomText: "Rex", Color1: "Red", Color2: "Black", Quantity: 1},
			{CustomText: "", Color1: "Blue", Quantity: 1},
		}},
	}

	note := packingListNote(order, p)
	assert.Contains(t, note, "PACKING LIST (Order #111-2222222-3333333):")
	assert.Contains(t, note, "1. Rex (Red / Black)")
	assert.Contains(t, note, "2. N/A (Blue)")
	assert.Contains(t, note, "Original Customer Notes:\nengrave carefully")
}
