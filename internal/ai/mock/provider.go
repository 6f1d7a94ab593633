package mock

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

const Name = "mock"

const CannedReport = `1. Executive Summary
Mock analysis generated without contacting a model provider.

2. Financial Performance Overview
Not assessed.

3. Key Financial Metrics
Not assessed.

4. Growth & Profitability Analysis
Not assessed.

5. Risk Factors Identified
Not assessed.

6. Investment Outlook
Not assessed.`

// Model satisfies llms.Model for tests and offline runs. It records every call.
type Model struct {
	GenerateFunc func(ctx context.Context, messages []llms.MessageContent, opts llms.CallOptions) (string, error)

	mu    sync.Mutex
	calls [][]llms.MessageContent
}

func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}

	out := ""
	if m.GenerateFunc != nil {
		var err error
		out, err = m.GenerateFunc(ctx, messages, opts)
		if err != nil {
			return nil, err
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: out}}}, nil
}

func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Calls returns the messages of every call so far, in order.
func (m *Model) Calls() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llms.MessageContent(nil), m.calls...)
}

// NewModel returns a Model that always answers with CannedReport.
func NewModel() *Model {
	return &Model{
		GenerateFunc: func(context.Context, []llms.MessageContent, llms.CallOptions) (string, error) {
			return CannedReport, nil
		},
	}
}

// NewFailingModel returns a Model that always returns the given error.
func NewFailingModel(err error) *Model {
	return &Model{
		GenerateFunc: func(context.Context, []llms.MessageContent, llms.CallOptions) (string, error) {
			return "", err
		},
	}
}

// NewBlockingModel returns a Model that blocks until the context is cancelled.
func NewBlockingModel() *Model {
	return &Model{
		GenerateFunc: func(ctx context.Context, _ []llms.MessageContent, _ llms.CallOptions) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
}

var _ llms.Model = (*Model)(nil)
