package ai

import (
    "context"
    "errors"
    "time"
)

var (
    ErrMissingKey = errors.New("missing API key")
    ErrNoChoices  = errors.New("model returned no choices")
)

// DefaultTimeout bounds a single completion request.
const DefaultTimeout = 30 * time.Second

// Request is one chat completion. With JSON set the provider is asked to
// answer with a single JSON object.
type Request struct {
    Model        string
    SystemPrompt string
    Prompt       string
    JSON         bool
    Temperature  float64
    MaxTokens    int
}

type Provider interface {
    Name() string
    Complete(ctx context.Context, req Request) (string, error)
}
