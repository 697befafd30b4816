package adapter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/lifeops/lifeops/pkg/adapter"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	base := &countingEmbedder{}

	cached, err := adapter.NewCachedEmbedder(base, 100)
	gt.NoError(t, err)
	defer cached.Close()

	v1, err := cached.Embed(ctx, "Ship release?")
	gt.NoError(t, err)
	cached.Wait()

	v2, err := cached.Embed(ctx, "Ship release?")
	gt.NoError(t, err)
	gt.Equal(t, v1, v2)
	gt.Equal(t, base.calls, 1)

	t.Run("returned vectors are copies", func(t *testing.T) {
		v2[0] = -1
		v3, err := cached.Embed(ctx, "Ship release?")
		gt.NoError(t, err)
		gt.Equal(t, v3[0], float32(13))
	})

	t.Run("newlines share the flattened key", func(t *testing.T) {
		_, err := cached.Embed(ctx, "Ship\nrelease?")
		gt.NoError(t, err)
		gt.Equal(t, base.calls, 1)
	})
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	base := &countingEmbedder{err: goerr.Wrap(model.ErrQuotaExceeded, "quota")}

	cached, err := adapter.NewCachedEmbedder(base, 10)
	gt.NoError(t, err)
	defer cached.Close()

	_, err = cached.Embed(ctx, "q")
	gt.True(t, errors.Is(err, model.ErrQuotaExceeded))
	cached.Wait()

	_, err = cached.Embed(ctx, "q")
	gt.Error(t, err)
	gt.Equal(t, base.calls, 2)
}

func TestNewCachedEmbedderRejectsZeroSize(t *testing.T) {
	_, err := adapter.NewCachedEmbedder(&countingEmbedder{}, 0)
	gt.Error(t, err)
}

type fixedEmbedder struct {
	vec []float32
	err error
}

func (e *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vec, e.err
}

func TestEmbed(t *testing.T) {
	ctx := context.Background()

	t.Run("passes matching dimension", func(t *testing.T) {
		vec, err := adapter.Embed(ctx, &fixedEmbedder{vec: []float32{1, 0, 0}}, "q", 3)
		gt.NoError(t, err)
		gt.A(t, vec).Length(3)
	})

	t.Run("dimension mismatch is embedding failure", func(t *testing.T) {
		_, err := adapter.Embed(ctx, &fixedEmbedder{vec: []float32{1, 0}}, "q", 3)
		gt.True(t, errors.Is(err, model.ErrEmbeddingFailure))
	})

	t.Run("empty vector is embedding failure", func(t *testing.T) {
		_, err := adapter.Embed(ctx, &fixedEmbedder{}, "q", 0)
		gt.True(t, errors.Is(err, model.ErrEmbeddingFailure))
	})

	t.Run("provider error is embedding failure", func(t *testing.T) {
		_, err := adapter.Embed(ctx, &fixedEmbedder{err: errors.New("boom")}, "q", 3)
		gt.True(t, errors.Is(err, model.ErrEmbeddingFailure))
		gt.False(t, errors.Is(err, model.ErrQuotaExceeded))
	})

	t.Run("quota stays distinguishable", func(t *testing.T) {
		_, err := adapter.Embed(ctx, &fixedEmbedder{err: goerr.Wrap(model.ErrQuotaExceeded, "429")}, "q", 3)
		gt.True(t, errors.Is(err, model.ErrQuotaExceeded))
		gt.True(t, errors.Is(err, model.ErrEmbeddingFailure))
	})
}
