package model

import "time"

// CompilationStatus is the outcome of a compile request.
type CompilationStatus string

const (
	CompilationSucceeded CompilationStatus = "SUCCEEDED"
	CompilationFailed    CompilationStatus = "FAILED"
)

// Compilation is a recorded compile run.
type Compilation struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	ContentHash string            `json:"content_hash"`
	Status      CompilationStatus `json:"status"`
	Documents   int               `json:"documents"`
	Inlined     int               `json:"inlined"`
	Errors      []FieldError      `json:"errors,omitempty"`
	Packed      string            `json:"packed,omitempty"`
	InputValues string            `json:"input_values,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
