// Package telemetry publishes a Session's connect-state transitions and
// NAK/RTX activity counters to a Redis pub/sub channel, for a fleet
// dashboard watching many links at once.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	sfp "github.com/xx25/go-sfp"
)

// publisher is the slice of *redis.Client this package actually uses,
// broken out so tests can substitute a fake without a live broker.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher is a Session Observer that mirrors activity onto Redis. It
// keeps its own running counters rather than querying Redis back, so a
// slow or unreachable broker never blocks frame routing on a read.
type Publisher struct {
	client  publisher
	conn    *redis.Client // non-nil when owned by New; nil for test fakes
	ctx     context.Context
	channel string

	mu       sync.Mutex
	accepted uint64
	nakCount uint64
	rtxCount uint64
}

// New connects to addr and returns a Publisher that will publish to
// channel. channel is typically link-scoped, e.g. "sfp:link:<id>".
func New(addr, password string, db int, channel string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("telemetry: connect to redis: %w", err)
	}

	return &Publisher{client: client, conn: client, ctx: ctx, channel: channel}, nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// OnFrameAccepted implements sfp.Observer.
func (p *Publisher) OnFrameAccepted(pkt sfp.Packet) {
	p.mu.Lock()
	p.accepted++
	n := p.accepted
	p.mu.Unlock()

	p.publish(fmt.Sprintf("accepted:%s:seq=%d:total=%d", pkt.Type, pkt.Seq, n))
}

// OnFrameRejected implements sfp.Observer. NAK and RTX activity are
// inferred from the error's sentinel identity since the Observer
// interface does not expose the emitted reaction packet directly.
func (p *Publisher) OnFrameRejected(err error) {
	p.mu.Lock()
	switch {
	case isHistoryMiss(err):
		p.rtxCount++ // a history miss means a retransmit was requested but could not be served
	default:
		p.nakCount++
	}
	naks, rtxs := p.nakCount, p.rtxCount
	p.mu.Unlock()

	p.publish(fmt.Sprintf("rejected:%v:naks=%d:rtx_misses=%d", err, naks, rtxs))
}

// OnStateChange implements sfp.Observer.
func (p *Publisher) OnStateChange(from, to sfp.ConnectState) {
	p.publish(fmt.Sprintf("state:%s->%s", from, to))
}

func (p *Publisher) publish(message string) {
	// Best-effort: telemetry must never surface an error into the
	// session's synchronous call path.
	p.client.Publish(p.ctx, p.channel, message)
}

func isHistoryMiss(err error) bool {
	return errors.Is(err, sfp.ErrHistoryMiss)
}

// Snapshot is a point-in-time read of the running counters, for
// cmd/sfp-monitor to print alongside the live link state.
type Snapshot struct {
	Accepted uint64
	Naks     uint64
	RtxMiss  uint64
}

// Snapshot returns the current counters.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{Accepted: p.accepted, Naks: p.nakCount, RtxMiss: p.rtxCount}
}
