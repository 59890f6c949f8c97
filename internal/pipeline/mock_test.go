package pipeline

import (
	"context"

	"github.com/printforge/printq-cli/internal/extract"
	"github.com/printforge/printq-cli/internal/model"
	"github.com/printforge/printq-cli/internal/store"
	"github.com/printforge/printq-cli/pkg/shipstation"
)

// fakeStore implements store.Store with canned data and call capture.
type fakeStore struct {
	ordersByID       map[int64]*model.Order
	ordersByNumber   map[string]*model.Order
	ordersByPlatform map[string]*model.Order
	pending          []model.Order
	tasksByOrder     map[int64][]model.PrintTask

	materializedTasks [][]model.PrintTask
	materializedJobs  []*model.SyncJob
	materializeErr    error

	outbox         []store.OutboxEntry
	removedOutbox  []int64
	outboxFailures map[int64]string

	attempts []*model.ExtractionAttempt
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ordersByID:       map[int64]*model.Order{},
		ordersByNumber:   map[string]*model.Order{},
		ordersByPlatform: map[string]*model.Order{},
		tasksByOrder:     map[int64][]model.PrintTask{},
		outboxFailures:   map[int64]string{},
	}
}

func (f *fakeStore) addOrder(o *model.Order) {
	f.ordersByID[o.ID] = o
	if o.OrderNumber != "" {
		f.ordersByNumber[o.OrderNumber] = o
	}
	if o.PlatformID != "" {
		f.ordersByPlatform[o.PlatformID] = o
	}
}

func (f *fakeStore) GetOrderByID(_ context.Context, id int64) (*model.Order, error) {
	return f.ordersByID[id], nil
}

func (f *fakeStore) GetOrderByNumber(_ context.Context, n string) (*model.Order, error) {
	return f.ordersByNumber[n], nil
}

func (f *fakeStore) GetOrderByPlatformID(_ context.Context, p string) (*model.Order, error) {
	return f.ordersByPlatform[p], nil
}

func (f *fakeStore) ListPendingOrders(_ context.Context, limit int, _ bool) ([]model.Order, error) {
	if limit > 0 && limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeStore) ListTasksForOrder(_ context.Context, orderID int64) ([]model.PrintTask, error) {
	return f.tasksByOrder[orderID], nil
}

func (f *fakeStore) MaterializeTasks(_ context.Context, tasks []model.PrintTask, job *model.SyncJob) error {
	if f.materializeErr != nil {
		return f.materializeErr
	}
	f.materializedTasks = append(f.materializedTasks, tasks)
	f.materializedJobs = append(f.materializedJobs, job)
	return nil
}

func (f *fakeStore) RecordExtractionAttempt(_ context.Context, a *model.ExtractionAttempt) error {
	f.attempts = append(f.attempts, a)
	return nil
}

func (f *fakeStore) ListOutbox(_ context.Context, _ int) ([]store.OutboxEntry, error) {
	return f.outbox, nil
}

func (f *fakeStore) RemoveOutbox(_ context.Context, orderID int64) error {
	f.removedOutbox = append(f.removedOutbox, orderID)
	return nil
}

func (f *fakeStore) MarkOutboxFailure(_ context.Context, orderID int64, msg string) error {
	f.outboxFailures[orderID] = msg
	return nil
}

func (f *fakeStore) Ping(_ context.Context) error    { return nil }
func (f *fakeStore) Migrate(_ context.Context) error { return nil }
func (f *fakeStore) Close() error                    { return nil }

// fakeShip implements shipstation.Client.
type pushCall struct {
	order   *shipstation.Order
	options map[string][]shipstation.ItemOption
	note    string
}

type fakeShip struct {
	order       *shipstation.Order
	getOrderErr error
	pushErr     error
	pushes      []pushCall
}

func (f *fakeShip) GetOrder(_ context.Context, _ string) (*shipstation.Order, error) {
	if f.getOrderErr != nil {
		return nil, f.getOrderErr
	}
	return f.order, nil
}

func (f *fakeShip) PushItemOptions(_ context.Context, order *shipstation.Order, options map[string][]shipstation.ItemOption, note string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, pushCall{order: order, options: options, note: note})
	return nil
}

// fakeExtractor implements PreExtractor.
type fakeExtractor struct {
	results map[int64]extract.Result
}

func (f *fakeExtractor) Applies(order *model.Order) bool { return order.IsAmazon() }

func (f *fakeExtractor) ExtractOrder(_ context.Context, _ *model.Order) map[int64]extract.Result {
	return f.results
}

// fakeEngine implements InferenceEngine with per-order results.
type fakeEngine struct {
	results    map[int64]model.OrderPersonalization
	errByOrder map[int64]error
	lastPre    map[int64]extract.Result
	calls      int
}

func (f *fakeEngine) Extract(_ context.Context, order *model.Order, pre map[int64]extract.Result) (model.OrderPersonalization, error) {
	f.calls++
	f.lastPre = pre
	if err := f.errByOrder[order.ID]; err != nil {
		return nil, err
	}
	return f.results[order.ID], nil
}
