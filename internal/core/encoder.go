package core

import "context"

// Encoder maps query text into the same vector space as the embedding index.
// The encoder is an external collaborator (a fixed, versioned embedding
// service); the Ranker wraps its failures as EncodingError.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}
