// Package redis publishes backtest events (trade intents, fills, cancels
// and per-bar indicator snapshots) to Redis Streams and Pub/Sub for an
// external execution engine and dashboards.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"kdjtrader/internal/indicator"
	"kdjtrader/internal/model"
	"kdjtrader/internal/strategy"
)

const (
	defaultPrefix    = "kdj"
	defaultMaxLen    = 10000
	defaultMaxBuffer = 10000
	defaultLatestTTL = 24 * time.Hour
)

// Event kinds, used in stream keys: "<prefix>:<kind>:<symbol>".
const (
	KindSignal = "signal"
	KindFill   = "fill"
	KindCancel = "cancel"
	KindBar    = "bar"
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	Prefix    string // key prefix, default "kdj"
	MaxLen    int64  // approximate stream length cap, default 10000
	MaxBuffer int    // events held while Redis is unreachable, default 10000
}

// BarSnapshot is the per-bar event: the bar, every indicator value and the
// portfolio value at close.
type BarSnapshot struct {
	Bar    model.Bar         `json:"bar"`
	Values []indicator.Value `json:"values"`
	Equity float64           `json:"equity"`
}

type event struct {
	kind   string
	symbol string
	data   string
}

// Publisher writes events through a circuit breaker. Events that fail or
// are rejected by an open breaker are buffered (oldest dropped when full)
// and replayed after the next successful write.
//
// Publisher has the method set of a backtest observer.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	ctx    context.Context
	prefix string
	maxLen int64

	mu      sync.Mutex
	buffer  []event
	maxBuf  int
	dropped int

	// Callbacks (optional)
	OnBuffer func()          // called when an event is buffered
	OnFlush  func(count int) // called after replaying buffered events
}

// Dial connects to Redis, pings it and returns a publisher guarded by a
// breaker that opens after 5 failures for 10 seconds.
func Dial(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewPublisher(ctx, client, NewCircuitBreaker(5, 10*time.Second), cfg), nil
}

// NewPublisher wraps an existing client. ctx bounds every write.
func NewPublisher(ctx context.Context, client *goredis.Client, cb *CircuitBreaker, cfg PublisherConfig) *Publisher {
	p := &Publisher{
		client: client,
		cb:     cb,
		ctx:    ctx,
		prefix: cfg.Prefix,
		maxLen: cfg.MaxLen,
		maxBuf: cfg.MaxBuffer,
	}
	if p.prefix == "" {
		p.prefix = defaultPrefix
	}
	if p.maxLen <= 0 {
		p.maxLen = defaultMaxLen
	}
	if p.maxBuf <= 0 {
		p.maxBuf = defaultMaxBuffer
	}
	return p
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the circuit breaker guarding writes.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// StreamKey returns the stream an event kind for symbol goes to.
func (p *Publisher) StreamKey(kind, symbol string) string {
	return p.prefix + ":" + kind + ":" + symbol
}

func (p *Publisher) channel(kind, symbol string) string {
	return "pub:" + p.prefix + ":" + kind + ":" + symbol
}

func (p *Publisher) latestKey(kind, symbol string) string {
	return p.prefix + ":latest:" + kind + ":" + symbol
}

func (p *Publisher) OnSignal(sig strategy.Signal) { p.publish(KindSignal, sig.Symbol, sig) }

func (p *Publisher) OnFill(_ *model.Order, fill model.Fill) { p.publish(KindFill, fill.Symbol, fill) }

func (p *Publisher) OnCancel(order *model.Order) { p.publish(KindCancel, order.Symbol, order) }

func (p *Publisher) OnBar(bar model.Bar, values []indicator.Value, equity float64) {
	p.publish(KindBar, bar.Symbol, BarSnapshot{Bar: bar, Values: values, Equity: equity})
}

func (p *Publisher) publish(kind, symbol string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[redis] marshal %s event: %v", kind, err)
		return
	}
	ev := event{kind: kind, symbol: symbol, data: string(data)}
	if err := p.cb.Execute(func() error { return p.write(ev) }); err != nil {
		p.bufferEvent(ev)
		return
	}
	if p.Buffered() > 0 {
		p.flush()
	}
}

// write performs the pipelined XADD + SET latest + PUBLISH for one event.
func (p *Publisher) write(ev event) error {
	pipe := p.client.Pipeline()
	pipe.XAdd(p.ctx, &goredis.XAddArgs{
		Stream: p.StreamKey(ev.kind, ev.symbol),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": ev.data},
	})
	pipe.Set(p.ctx, p.latestKey(ev.kind, ev.symbol), ev.data, defaultLatestTTL)
	pipe.Publish(p.ctx, p.channel(ev.kind, ev.symbol), ev.data)
	if _, err := pipe.Exec(p.ctx); err != nil {
		return fmt.Errorf("redis pipeline %s: %w", ev.kind, err)
	}
	return nil
}

func (p *Publisher) bufferEvent(ev event) {
	p.mu.Lock()
	if len(p.buffer) >= p.maxBuf {
		// Buffer full, drop oldest
		p.buffer = p.buffer[1:]
		p.dropped++
	}
	p.buffer = append(p.buffer, ev)
	p.mu.Unlock()

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays buffered events in order, stopping at the first failure.
func (p *Publisher) flush() int {
	p.mu.Lock()
	toFlush := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	flushed := 0
	for i, ev := range toFlush {
		if err := p.cb.Execute(func() error { return p.write(ev) }); err != nil {
			p.mu.Lock()
			p.buffer = append(append([]event(nil), toFlush[i:]...), p.buffer...)
			p.mu.Unlock()
			break
		}
		flushed++
	}

	if flushed > 0 {
		log.Printf("[redis] flushed %d buffered events", flushed)
		if p.OnFlush != nil {
			p.OnFlush(flushed)
		}
	}
	return flushed
}

// Flush replays buffered events and returns how many remain buffered.
func (p *Publisher) Flush() int {
	p.flush()
	return p.Buffered()
}

// Buffered returns the number of events waiting to be written.
func (p *Publisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Dropped returns the number of events lost to a full buffer.
func (p *Publisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
