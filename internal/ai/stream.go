package ai

import "context"

// Streamer submits a chat request and reports partial results as they arrive.
// It returns the accumulated content. A server error frame is reported
// through onUpdate and is not returned as an error.
type Streamer interface {
	Stream(ctx context.Context, req Request, onUpdate func(Update)) (string, error)
}

// StreamFunc adapts a function to Streamer.
type StreamFunc func(ctx context.Context, req Request, onUpdate func(Update)) (string, error)

func (f StreamFunc) Stream(ctx context.Context, req Request, onUpdate func(Update)) (string, error) {
	return f(ctx, req, onUpdate)
}
