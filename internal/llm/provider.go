// Package llm defines the endpoint abstraction the gateway pools: a remote
// model server that can complete chat prompts and embed texts.
package llm

import "context"

// Provider is one remote endpoint serving both completions and embeddings.
type Provider interface {
	// Complete sends a prompt and returns a completion.
	Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error)
	// Embed returns one embedding vector per text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name identifies the endpoint in logs and spans.
	Name() string
}
