package shard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pool keeps per-shard free lists of opened handles, capped at maxPerShard
// handles each. Borrowed handles are exclusively owned until checked in.
type Pool struct {
	mu          sync.Mutex
	free        map[string][]*Handle // shard path -> idle handles
	maxPerShard int
	busyTimeout time.Duration
	logger      *zap.Logger
}

// NewPool creates a connection pool.
func NewPool(maxPerShard int, busyTimeout time.Duration, logger *zap.Logger) *Pool {
	if maxPerShard <= 0 {
		maxPerShard = 5
	}
	return &Pool{
		free:        make(map[string][]*Handle),
		maxPerShard: maxPerShard,
		busyTimeout: busyTimeout,
		logger:      logger,
	}
}

// Checkout returns a healthy handle for the shard at path, reusing an idle
// one when possible. Idle handles that fail the health probe are closed and
// the next one is tried.
func (p *Pool) Checkout(ctx context.Context, path string) (*Handle, error) {
	for {
		p.mu.Lock()
		list := p.free[path]
		if len(list) == 0 {
			p.mu.Unlock()
			break
		}
		h := list[len(list)-1]
		p.free[path] = list[:len(list)-1]
		p.mu.Unlock()

		if err := h.Ping(ctx); err != nil {
			p.logger.Warn("discarding unhealthy pooled handle",
				zap.String("shard_path", path),
				zap.Error(err))
			h.Close()
			continue
		}
		return h, nil
	}
	return Open(path, int(p.busyTimeout.Milliseconds()))
}

// Checkin returns a handle to the free list, closing it when the list is
// already at capacity.
func (p *Pool) Checkin(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	if len(p.free[h.path]) < p.maxPerShard {
		p.free[h.path] = append(p.free[h.path], h)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	h.Close()
}

// Taint closes a handle instead of returning it. Used when a borrower was
// cancelled mid-query and the connection state is suspect.
func (p *Pool) Taint(h *Handle) {
	if h == nil {
		return
	}
	h.Close()
}

// Close drains and closes every idle handle.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, list := range p.free {
		for _, h := range list {
			h.Close()
		}
		delete(p.free, path)
	}
}

// IdleCount reports the number of idle handles for a shard. Test hook.
func (p *Pool) IdleCount(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free[path])
}
