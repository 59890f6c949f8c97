package pipeline

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/printforge/printq-cli/internal/extract"
)

// ItemDebug is the per-item outcome trail within an order's debug entry.
type ItemDebug struct {
	ItemID           int64  `json:"item_id"`
	PreExtract       string `json:"pre_extract,omitempty"`
	PreExtractDetail string `json:"pre_extract_detail,omitempty"`
	TaskCount        int    `json:"task_count"`
	Skipped          bool   `json:"skipped,omitempty"`
}

// OrderDebug is one structured troubleshooting record per order per run.
type OrderDebug struct {
	Timestamp        time.Time                `json:"timestamp"`
	OrderID          int64                    `json:"order_id"`
	OrderNumber      string                   `json:"order_number,omitempty"`
	Marketplace      string                   `json:"marketplace,omitempty"`
	OverallStatus    string                   `json:"overall_status"`
	InferenceStatus  string                   `json:"inference_status,omitempty"`
	TransactionState string                   `json:"transaction_state,omitempty"`
	SyncStatus       string                   `json:"sync_status,omitempty"`
	TasksPlanned     int                      `json:"tasks_planned"`
	NeedsReviewCount int                      `json:"needs_review_count"`
	Error            string                   `json:"error,omitempty"`
	PreExtractions   map[int64]extract.Result `json:"pre_extractions,omitempty"`
	Items            []ItemDebug              `json:"items,omitempty"`
}

// DebugLog appends one JSON line per order to a troubleshooting file.
// A write failure is logged and swallowed; debug output must never affect
// processing.
type DebugLog struct {
	mu   sync.Mutex
	path string
}

// NewDebugLog returns a logger for path. An empty path disables output.
func NewDebugLog(path string) *DebugLog {
	return &DebugLog{path: path}
}

func (d *DebugLog) Append(entry *OrderDebug) {
	if d == nil || d.path == "" {
		return
	}
	entry.Timestamp = time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		zap.L().Warn("failed to encode debug entry", zap.Error(err))
		return
	}

	f, err := os.OpenFile(d.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		zap.L().Warn("failed to open debug log", zap.String("path", d.path), zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		zap.L().Warn("failed to append debug entry", zap.String("path", d.path), zap.Error(err))
	}
}
