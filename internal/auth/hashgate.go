package auth

import (
	"context"
	"runtime"
)

// HashGate bounds the number of concurrent password hashing operations.
// Argon2id at the default parameters costs ~200 ms of CPU and 64 MiB of
// memory per call; letting every request handler hash concurrently would
// destroy tail latency on small hosts.
type HashGate struct {
	slots chan struct{}
}

// NewHashGate creates a gate with the given number of slots. Zero or
// negative picks min(4, GOMAXPROCS).
func NewHashGate(slots int) *HashGate {
	if slots <= 0 {
		slots = runtime.GOMAXPROCS(0)
		if slots > 4 {
			slots = 4
		}
	}
	return &HashGate{slots: make(chan struct{}, slots)}
}

// Do runs fn once a slot is free, or returns the context error if the
// request deadline expires while queued.
func (g *HashGate) Do(ctx context.Context, fn func() error) error {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.slots }()
	return fn()
}
