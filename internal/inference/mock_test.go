package inference

import (
	"context"

	"github.com/printforge/printq-cli/internal/model"
	"github.com/printforge/printq-cli/pkg/anthropic"
)

// mockAnthropicClient implements anthropic.Client for testing.
type mockAnthropicClient struct {
	response  *anthropic.MessageResponse
	err       error
	callCount int
	lastReq   anthropic.MessageRequest
}

func (m *mockAnthropicClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.callCount++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

// mockAuditRecorder captures extraction attempts.
type mockAuditRecorder struct {
	attempts []*model.ExtractionAttempt
	err      error
}

func (m *mockAuditRecorder) RecordExtractionAttempt(_ context.Context, attempt *model.ExtractionAttempt) error {
	m.attempts = append(m.attempts, attempt)
	return m.err
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1200, OutputTokens: 300},
	}
}
