package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrEmbeddingFailure is returned when the provider could not produce a usable embedding
	ErrEmbeddingFailure = goerr.New("embedding failure")

	// ErrQuotaExceeded marks provider rate-limit/quota rejections (HTTP 429). Callers may
	// treat it as a soft failure and continue with degraded context.
	ErrQuotaExceeded = goerr.New("provider quota exceeded")

	ErrNotFound       = goerr.New("not found")
	ErrValidation     = goerr.New("validation failure")
	ErrSynthesisParse = goerr.New("synthesis parse failure")

	// ErrInvalidState is returned when a decision operation is not allowed in the current lifecycle state
	ErrInvalidState = goerr.New("invalid decision state")
)
