package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	reply Reply
	err   error
	calls int
}

func (s *stubGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	s.calls++
	return s.reply, s.err
}

func TestFallbackGenerator(t *testing.T) {
	t.Run("primary succeeds", func(t *testing.T) {
		primary := &stubGenerator{reply: Reply{Text: "a", Provider: "p"}}
		fallback := &stubGenerator{}
		reply, err := NewFallbackGenerator(primary, fallback, nil).Generate(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "a", reply.Text)
		assert.Zero(t, fallback.calls)
	})

	t.Run("fallback used on failure", func(t *testing.T) {
		primary := &stubGenerator{err: errors.New("down")}
		fallback := &stubGenerator{reply: Reply{Text: "b", Provider: "f"}}
		reply, err := NewFallbackGenerator(primary, fallback, nil).Generate(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "b", reply.Text)
	})

	t.Run("no fallback returns primary error", func(t *testing.T) {
		primaryErr := errors.New("down")
		_, err := NewFallbackGenerator(&stubGenerator{err: primaryErr}, nil, nil).Generate(context.Background(), Request{})
		assert.ErrorIs(t, err, primaryErr)
	})

	t.Run("both fail returns fallback error", func(t *testing.T) {
		fallbackErr := errors.New("also down")
		_, err := NewFallbackGenerator(&stubGenerator{err: errors.New("down")}, &stubGenerator{err: fallbackErr}, nil).Generate(context.Background(), Request{})
		assert.ErrorIs(t, err, fallbackErr)
	})

	t.Run("cancelled context skips fallback", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		fallback := &stubGenerator{}
		_, err := NewFallbackGenerator(&stubGenerator{err: context.Canceled}, fallback, nil).Generate(ctx, Request{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, fallback.calls)
	})
}
