package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Embedder converts text into a fixed-length vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer returns a free-text completion for a prompt
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Provider is the embedding/completion capability the engine depends on
type Provider interface {
	Embedder
	Completer
}

type composite struct {
	Embedder
	Completer
}

// Compose builds a Provider from separate embedding and completion backends, e.g. Gemini
// embeddings with Claude completions.
func Compose(e Embedder, c Completer) Provider {
	return &composite{Embedder: e, Completer: c}
}

// normalizeText flattens newlines; embeddings are computed over single-line text
func normalizeText(text string) string {
	return strings.ReplaceAll(text, "\n", " ")
}

// providerError marks rate-limit responses with model.ErrQuotaExceeded so callers can
// tell them apart from hard failures. Other errors pass through unchanged.
func providerError(err error) error {
	if isQuotaError(err) {
		return goerr.Wrap(model.ErrQuotaExceeded, "provider rejected request by rate limit", goerr.V("cause", err.Error()))
	}
	return err
}

func isQuotaError(err error) bool {
	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return geminiErr.Code == http.StatusTooManyRequests
	}

	var claudeErr *anthropic.Error
	if errors.As(err, &claudeErr) {
		return claudeErr.StatusCode == http.StatusTooManyRequests
	}

	return false
}

// Embed calls e and tags every failure with model.ErrEmbeddingFailure. Rate-limit errors
// also keep model.ErrQuotaExceeded. A positive dim rejects vectors of any other length.
func Embed(ctx context.Context, e Embedder, text string, dim int) ([]float32, error) {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, model.ErrEmbeddingFailure) {
			return nil, err
		}
		return nil, goerr.Wrap(errors.Join(model.ErrEmbeddingFailure, err), "failed to embed text")
	}

	if len(vec) == 0 {
		return nil, goerr.Wrap(model.ErrEmbeddingFailure, "empty embedding")
	}
	if dim > 0 && len(vec) != dim {
		return nil, goerr.Wrap(model.ErrEmbeddingFailure, "unexpected embedding dimension",
			goerr.V("expected", dim),
			goerr.V("actual", len(vec)))
	}

	return vec, nil
}
