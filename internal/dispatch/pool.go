package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Pool holds a fixed number of client connections to one backend. Slots
// are created eagerly at startup and never resized; a failed slot is
// replaced in place, so the pool size is constant for the process
// lifetime. Selection is lock-free and never fails: a pool always has a
// handle in every slot, even if unhealthy.
type Pool struct {
	backend  string
	target   string
	dialOpts []grpc.DialOption
	logger   *zap.Logger

	cursor atomic.Uint64
	slots  []atomic.Pointer[grpc.ClientConn]

	// replaceMu serializes slot replacements so concurrent failures on
	// the same slot do not leak connections.
	replaceMu sync.Mutex
}

// defaultDialOptions returns the dial options used for backend
// connections when the caller supplies none.
func defaultDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
}

// NewPool creates size connections to target. Any creation failure is
// returned as an error; callers treat it as fatal so the gateway never
// serves traffic against a partial pool.
func NewPool(backend, target string, size int, logger *zap.Logger, dialOpts ...grpc.DialOption) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool for %s: size must be at least 1, got %d", backend, size)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(dialOpts) == 0 {
		dialOpts = defaultDialOptions()
	}

	p := &Pool{
		backend:  backend,
		target:   target,
		dialOpts: dialOpts,
		logger:   logger,
		slots:    make([]atomic.Pointer[grpc.ClientConn], size),
	}

	for i := range p.slots {
		conn, err := grpc.NewClient(target, dialOpts...)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("pool for %s: create connection %d to %s: %w", backend, i, target, err)
		}
		p.slots[i].Store(conn)
	}

	logger.Info("connection pool initialized",
		zap.String("backend", backend),
		zap.String("target", target),
		zap.Int("size", size),
	)

	return p, nil
}

// Select returns the next connection round-robin along with its slot
// index. The cursor advances atomically, so for call index i the
// selected slot is i mod size.
func (p *Pool) Select() (*grpc.ClientConn, int) {
	idx := int((p.cursor.Add(1) - 1) % uint64(len(p.slots)))
	return p.slots[idx].Load(), idx
}

// Replace swaps a fresh connection into the given slot and closes the
// old one. Callers schedule it asynchronously after a transport failure;
// the failed call's result has already been returned to its caller.
func (p *Pool) Replace(index int) error {
	if index < 0 || index >= len(p.slots) {
		return fmt.Errorf("pool for %s: slot index %d out of range", p.backend, index)
	}

	p.replaceMu.Lock()
	defer p.replaceMu.Unlock()

	conn, err := grpc.NewClient(p.target, p.dialOpts...)
	if err != nil {
		p.logger.Error("connection replacement failed",
			zap.String("backend", p.backend),
			zap.Int("slot", index),
			zap.Error(err),
		)
		return fmt.Errorf("pool for %s: replace slot %d: %w", p.backend, index, err)
	}

	old := p.slots[index].Swap(conn)
	if old != nil {
		_ = old.Close()
	}

	poolReplacementsTotal.WithLabelValues(p.backend).Inc()
	p.logger.Debug("connection slot replaced",
		zap.String("backend", p.backend),
		zap.Int("slot", index),
	)

	return nil
}

// Size returns the fixed number of slots.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Close closes every connection in the pool.
func (p *Pool) Close() error {
	var lastErr error
	for i := range p.slots {
		if conn := p.slots[i].Swap(nil); conn != nil {
			if err := conn.Close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}
