package core

import "errors"

var (
	// ErrEmbeddingUnavailable marks a failed or timed-out embedding call.
	// Workflows proceed without an embedding instead of aborting.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrMalformedAnalysis marks a model response that could not be decoded
	// into a complete AIAnalysis. The analyze operation fails hard; partial
	// analyses are never returned.
	ErrMalformedAnalysis = errors.New("malformed analysis response")

	// ErrUpstreamTimeout marks a generative call that exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream call timed out")
)
