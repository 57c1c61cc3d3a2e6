package embedcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
	"github.com/consilience-ai/consilience-backend/internal/platform/openai"
)

type fakeEmbedder struct {
	openai.Client

	mu    sync.Mutex
	calls [][]string
}

func (f *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), inputs...))
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = []float32{float32(len(in)), 1}
	}
	return out, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestEmbedCachesByModelAndText(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	inner := &fakeEmbedder{}
	client := Wrap(inner, rdb, testLogger(t), "text-embedding-3-small", time.Hour)
	ctx := context.Background()

	first, err := client.Embed(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(first) != 2 || first[0][0] != 5 || first[1][0] != 4 {
		t.Fatalf("first embed = %v", first)
	}

	second, err := client.Embed(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed cached: %v", err)
	}
	if len(second) != 2 || second[0][0] != 5 || second[1][0] != 4 {
		t.Fatalf("cached embed = %v", second)
	}

	inner.mu.Lock()
	calls := len(inner.calls)
	inner.mu.Unlock()
	if calls != 1 {
		t.Fatalf("inner called %d times, want 1", calls)
	}

	if ttl := s.TTL(Key("text-embedding-3-small", "alpha")); ttl <= 0 {
		t.Fatalf("cached key has no TTL: %v", ttl)
	}
}

func TestEmbedPartialHitOnlyFetchesMisses(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	inner := &fakeEmbedder{}
	client := Wrap(inner, rdb, testLogger(t), "m", time.Hour)
	ctx := context.Background()

	if _, err := client.Embed(ctx, []string{"cached"}); err != nil {
		t.Fatalf("warm: %v", err)
	}
	got, err := client.Embed(ctx, []string{"cached", "new"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got[0][0] != 6 || got[1][0] != 3 {
		t.Fatalf("mixed embed = %v", got)
	}

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if len(inner.calls) != 2 {
		t.Fatalf("inner called %d times, want 2", len(inner.calls))
	}
	if len(inner.calls[1]) != 1 || inner.calls[1][0] != "new" {
		t.Fatalf("second call fetched %v, want just the miss", inner.calls[1])
	}
}

func TestEmbedFailsOpenWhenRedisDown(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()
	s.Close() // cache is unreachable from the start

	inner := &fakeEmbedder{}
	client := Wrap(inner, rdb, testLogger(t), "m", time.Hour)

	got, err := client.Embed(context.Background(), []string{"alpha"})
	if err != nil {
		t.Fatalf("Embed with dead cache: %v", err)
	}
	if len(got) != 1 || got[0][0] != 5 {
		t.Fatalf("embed = %v", got)
	}
}

func TestWrapWithoutRedisReturnsInner(t *testing.T) {
	inner := &fakeEmbedder{}
	if got := Wrap(inner, nil, testLogger(t), "m", 0); got != openai.Client(inner) {
		t.Fatalf("Wrap(nil rdb) should return the inner client")
	}
}
