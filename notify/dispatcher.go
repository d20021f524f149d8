package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DispatcherConfig sizes the delivery pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Dispatcher delivers messages to a Notifier from a fixed worker pool.
// Send never blocks: a full queue drops the message.
type Dispatcher struct {
	cfg    DispatcherConfig
	target Notifier
	logger *zap.Logger

	queue   chan Message
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewDispatcher starts cfg.Workers goroutines delivering to target.
func NewDispatcher(target Notifier, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if target == nil {
		target = Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:    cfg,
		target: target,
		logger: logger,
		queue:  make(chan Message, cfg.QueueSize),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.work()
	}
	return d
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("notifier panicked", zap.String("kind", string(msg.Kind)), zap.Any("panic", r))
		}
	}()

	if err := d.target.Notify(ctx, msg); err != nil {
		d.failed.Add(1)
		d.logger.Warn("notification failed",
			zap.String("kind", string(msg.Kind)),
			zap.String("account_id", msg.AccountID),
			zap.Error(err),
		)
	}
}

// Send queues msg and reports whether it was accepted.
func (d *Dispatcher) Send(msg Message) bool {
	if d == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- msg:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue full, dropping message", zap.String("kind", string(msg.Kind)))
		return false
	}
}

// Close stops intake and waits for queued messages to be delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// Dropped counts messages rejected by a full queue.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts deliveries that returned an error or panicked.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
