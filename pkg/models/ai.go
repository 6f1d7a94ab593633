// Package models contains shared data models used across the findoc codebase.
package models

import "context"

// AnalysisEngine is the capability every analysis backend must implement.
// Never call a specific LLM provider directly; always inject this interface.
type AnalysisEngine interface {
	// Analyze reads the uploaded document behind fileRef and answers query with a report.
	// It may block for minutes and may fail.
	Analyze(ctx context.Context, fileRef, query string) (string, error)
	// Name returns the engine identifier (e.g., "openai", "mock").
	Name() string
}

// DocumentReader extracts normalized text from an uploaded document.
type DocumentReader interface {
	Read(ctx context.Context, fileRef string) (string, error)
}
