package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, DefaultRules(), slog.Default()), mr
}

func TestAdmitUpToLimit(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Admit(ctx, "login:eve@example.com"), "attempt %d", i+1)
	}
	// The sixth and every later attempt inside the window is rejected.
	assert.False(t, l.Admit(ctx, "login:eve@example.com"))
	assert.False(t, l.Admit(ctx, "login:eve@example.com"))

	// Other keys are unaffected.
	assert.True(t, l.Admit(ctx, "login:alice@example.com"))
}

func TestRejectionDoesNotConsumeWindow(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, l.Admit(ctx, "login:bob@example.com"))
	}
	// Rejected attempts do not push the window forward: the count stays at
	// the threshold rather than growing past it.
	for i := 0; i < 20; i++ {
		assert.False(t, l.Admit(ctx, "login:bob@example.com"))
	}
}

func TestWindowSlides(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	base := time.Now()
	l.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		require.True(t, l.Admit(ctx, "login:carol@example.com"))
	}
	require.False(t, l.Admit(ctx, "login:carol@example.com"))

	// Just before the window closes the key is still saturated.
	l.now = func() time.Time { return base.Add(59 * time.Second) }
	assert.False(t, l.Admit(ctx, "login:carol@example.com"))

	// Once the first attempts age out, capacity returns.
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	assert.True(t, l.Admit(ctx, "login:carol@example.com"))
}

func TestPerClassRules(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.Admit(ctx, "reset:dave@example.com"))
	}
	assert.False(t, l.Admit(ctx, "reset:dave@example.com"))

	for i := 0; i < 10; i++ {
		require.True(t, l.Admit(ctx, "refresh:"+"dave"))
	}
	assert.False(t, l.Admit(ctx, "refresh:dave"))
}

func TestUnclassifiedKeyFallsBackToGeneral(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.True(t, l.Admit(ctx, "custom-key"))
	}
	assert.False(t, l.Admit(ctx, "custom-key"))
}

func TestTransportErrorFailsClosed(t *testing.T) {
	l, mr := testLimiter(t)
	mr.Close()

	assert.False(t, l.Admit(context.Background(), "login:frank@example.com"))
}

func TestConcurrentAdmitsNeverUndercount(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit(ctx, "login:grace@example.com") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	// The script is atomic, so exactly the limit gets through.
	assert.Equal(t, int32(5), admitted.Load())
}

func TestDisabledAdmitsEverything(t *testing.T) {
	var l Limiter = Disabled{}
	for i := 0; i < 1000; i++ {
		require.True(t, l.Admit(context.Background(), "login:any"))
	}
}
