package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/leadqual/internal/generation"
	"github.com/wolfman30/leadqual/internal/statestore"
)

func newTestTranscript(t *testing.T, maxTurns int) (*RedisTranscript, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTranscript(client, maxTurns), mr
}

func TestRedisTranscript_AppendAndRecent(t *testing.T) {
	tr, mr := newTestTranscript(t, 4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := tr.Append(ctx, "t1",
			generation.Turn{Role: generation.RoleUser, Content: fmt.Sprintf("q%d", i), At: testNow},
			generation.Turn{Role: generation.RoleAssistant, Content: fmt.Sprintf("a%d", i), At: testNow},
		)
		require.NoError(t, err)
	}

	turns, err := tr.Recent(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "q1", turns[0].Content)
	assert.Equal(t, generation.RoleUser, turns[0].Role)
	assert.Equal(t, "a2", turns[3].Content)
	assert.True(t, turns[3].At.Equal(testNow))

	ttl := mr.TTL(transcriptKey("t1"))
	assert.Equal(t, 24*time.Hour, ttl)
}

func TestRedisTranscript_EmptyAndNil(t *testing.T) {
	tr, _ := newTestTranscript(t, 0)
	ctx := context.Background()

	turns, err := tr.Recent(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, turns)

	assert.Error(t, tr.Append(ctx, "", generation.Turn{Role: generation.RoleUser, Content: "x"}))

	var none *RedisTranscript
	assert.Nil(t, NewRedisTranscript(nil, 5))
	assert.NoError(t, none.Append(ctx, "t1", generation.Turn{Content: "x"}))
	turns, err = none.Recent(ctx, "t1")
	assert.NoError(t, err)
	assert.Nil(t, turns)
}

func TestService_UsesTranscriptHistory(t *testing.T) {
	tr, _ := newTestTranscript(t, 10)
	gen := &historyGenerator{}
	svc := newTestService(t, statestore.NewMemoryStore(), gen, WithTranscript(tr))
	ctx := context.Background()

	_, err := svc.ProcessMessage(ctx, MessageRequest{Message: "first", ContactID: "c1", ThreadID: "t1"})
	require.NoError(t, err)
	_, err = svc.ProcessMessage(ctx, MessageRequest{Message: "second", ContactID: "c1", ThreadID: "t1"})
	require.NoError(t, err)

	require.Len(t, gen.histories, 2)
	assert.Empty(t, gen.histories[0])
	require.Len(t, gen.histories[1], 2)
	assert.Equal(t, "first", gen.histories[1][0].Content)
	assert.Equal(t, "reply to first", gen.histories[1][1].Content)
}

type historyGenerator struct {
	histories [][]generation.Turn
}

func (g *historyGenerator) Generate(ctx context.Context, req generation.Request) (generation.Reply, error) {
	g.histories = append(g.histories, req.History)
	return generation.Reply{Text: "reply to " + req.Message}, nil
}
