package pipeline

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugLog_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.jsonl")
	log := NewDebugLog(path)

	log.Append(&OrderDebug{OrderID: 42, OverallStatus: "completed"})
	log.Append(&OrderDebug{OrderID: 43, OverallStatus: "failed (inference)", Error: "boom"})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []OrderDebug
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e OrderDebug
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, int64(42), entries[0].OrderID)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Equal(t, "boom", entries[1].Error)
}

func TestDebugLog_DisabledByEmptyPath(t *testing.T) {
	log := NewDebugLog("")
	// Must be a no-op, including on a nil receiver.
	log.Append(&OrderDebug{OrderID: 1})
	(*DebugLog)(nil).Append(&OrderDebug{OrderID: 1})
}

func TestDebugLog_WriteFailureIsSwallowed(t *testing.T) {
	log := NewDebugLog(filepath.Join(t.TempDir(), "missing-dir", "debug.jsonl"))
	// The parent directory does not exist; Append must not panic or error.
	log.Append(&OrderDebug{OrderID: 42})
}
