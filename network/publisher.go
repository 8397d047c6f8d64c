package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"

	"github.com/VanDung-dev/stellar-gateway/arrow"
	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// Common errors for the event feed
var (
	ErrPublisherRunning = errors.New("publisher already running")
	ErrPublisherStopped = errors.New("publisher is stopped")
)

// maxBatch caps how many queued events share one frame.
const maxBatch = 64

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Address is the ZeroMQ endpoint the PUB socket binds, e.g. tcp://127.0.0.1:7400
	Address string

	// Topic is sent as the first frame of every message
	Topic string

	// BufferSize is the number of events held while the socket is busy
	BufferSize int
}

// DefaultPublisherConfig returns the default feed settings.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Address:    "tcp://127.0.0.1:7400",
		Topic:      "workflow",
		BufferSize: 1024,
	}
}

// PublisherStats contains event feed statistics.
type PublisherStats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
	IsRunning bool  `json:"is_running"`
}

// Publisher broadcasts workflow events on a PUB socket. It implements
// gateway.EventSink and never blocks the workflow: events that do not fit
// in the buffer are dropped and counted.
type Publisher struct {
	cfg   PublisherConfig
	codec *arrow.IPCCodec
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	socket zmq4.Socket

	mu        sync.RWMutex
	accepting bool
	started   bool
	queue     chan gateway.Event
	wg        sync.WaitGroup

	published int64
	dropped   int64
	failed    int64
}

var _ gateway.EventSink = (*Publisher)(nil)

// NewPublisher creates a publisher. Events are buffered until Start.
func NewPublisher(cfg PublisherConfig, logger *zap.Logger) *Publisher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultPublisherConfig().BufferSize
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultPublisherConfig().Topic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Publisher{
		cfg:       cfg,
		codec:     arrow.NewIPCCodec(),
		log:       logger,
		ctx:       ctx,
		cancel:    cancel,
		accepting: true,
		queue:     make(chan gateway.Event, cfg.BufferSize),
	}
}

// Topic returns the topic frame of published messages.
func (p *Publisher) Topic() string { return p.cfg.Topic }

// Start binds the PUB socket and begins sending.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.accepting {
		return ErrPublisherStopped
	}
	if p.started {
		return ErrPublisherRunning
	}

	p.socket = zmq4.NewPub(p.ctx)
	if err := p.socket.Listen(p.cfg.Address); err != nil {
		return fmt.Errorf("failed to bind publisher: %w", err)
	}
	p.started = true

	p.wg.Add(1)
	go p.sendLoop()

	p.log.Info("event publisher listening", zap.String("address", p.Endpoint()), zap.String("topic", p.cfg.Topic))
	return nil
}

// Endpoint returns the bound endpoint, resolving an ephemeral port.
func (p *Publisher) Endpoint() string {
	if p.socket == nil || p.socket.Addr() == nil {
		return p.cfg.Address
	}
	return "tcp://" + p.socket.Addr().String()
}

// Publish enqueues an event without blocking.
func (p *Publisher) Publish(e gateway.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.accepting {
		atomic.AddInt64(&p.dropped, 1)
		return
	}
	select {
	case p.queue <- e:
	default:
		atomic.AddInt64(&p.dropped, 1)
	}
}

// sendLoop frames queued events and writes them to the socket.
func (p *Publisher) sendLoop() {
	defer p.wg.Done()

	batch := make([]gateway.Event, 0, maxBatch)
	for e := range p.queue {
		batch = append(batch[:0], e)
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-p.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		p.send(batch)
	}
}

func (p *Publisher) send(batch []gateway.Event) {
	payload, err := p.codec.EncodeEvents(batch)
	if err != nil {
		atomic.AddInt64(&p.failed, int64(len(batch)))
		p.log.Warn("encoding workflow events failed", zap.Int("events", len(batch)), zap.Error(err))
		return
	}

	msg := zmq4.NewMsgFrom([]byte(p.cfg.Topic), payload)
	if err := p.socket.Send(msg); err != nil {
		atomic.AddInt64(&p.failed, int64(len(batch)))
		p.log.Warn("publishing workflow events failed", zap.Int("events", len(batch)), zap.Error(err))
		return
	}
	atomic.AddInt64(&p.published, int64(len(batch)))
}

// Stop flushes the buffer and closes the socket.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.accepting {
		p.mu.Unlock()
		return nil
	}
	p.accepting = false
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		p.cancel()
		return nil
	}

	p.wg.Wait()
	err := p.socket.Close()
	p.cancel()
	return err
}

// Stats returns current feed statistics.
func (p *Publisher) Stats() PublisherStats {
	p.mu.RLock()
	running := p.started && p.accepting
	p.mu.RUnlock()

	return PublisherStats{
		Published: atomic.LoadInt64(&p.published),
		Dropped:   atomic.LoadInt64(&p.dropped),
		Failed:    atomic.LoadInt64(&p.failed),
		Pending:   len(p.queue),
		IsRunning: running,
	}
}
