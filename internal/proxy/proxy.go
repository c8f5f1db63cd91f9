// Package proxy is the foreground half of the tracker: it sends commands
// and queries to the background engine, caches the latest snapshot, tracks
// staleness, and exposes a snapshot context for synchronous best-effort rule
// evaluation in rendering code.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockpick/tracker/internal/transport"
	"github.com/lockpick/tracker/pkg/gamedef"
	"github.com/lockpick/tracker/pkg/protocol"
	"github.com/lockpick/tracker/pkg/rules"
	"github.com/lockpick/tracker/pkg/state"
)

// DefaultQueryTimeout bounds how long a query waits for its correlated
// reply before rejecting.
const DefaultQueryTimeout = 8 * time.Second

var (
	// ErrTimeout is returned when a query's reply did not arrive in time.
	// A late reply for a timed-out query is silently dropped.
	ErrTimeout = errors.New("query timed out")
	// ErrTransportClosed rejects all in-flight queries when the channel to
	// the engine can no longer be trusted.
	ErrTransportClosed = errors.New("engine transport closed")
)

type queryOutcome struct {
	result json.RawMessage
	err    error
}

// Proxy mediates between foreground consumers and one background engine.
type Proxy struct {
	tr      transport.Transport
	log     *slog.Logger
	timeout time.Duration

	mu             sync.Mutex
	pending        map[string]chan queryOutcome
	snapshot       *state.Snapshot
	pack           *gamedef.Pack
	stale          bool
	readySignalled bool
	readyCh        chan struct{}
	closed         bool

	notifications chan protocol.Message
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithQueryTimeout overrides the default reply deadline.
func WithQueryTimeout(d time.Duration) Option {
	return func(p *Proxy) { p.timeout = d }
}

// New starts a proxy over a transport endpoint and begins dispatching
// incoming messages.
func New(tr transport.Transport, log *slog.Logger, opts ...Option) *Proxy {
	p := &Proxy{
		tr:            tr,
		log:           log,
		timeout:       DefaultQueryTimeout,
		pending:       map[string]chan queryOutcome{},
		readyCh:       make(chan struct{}),
		notifications: make(chan protocol.Message, 64),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.receiveLoop()
	return p
}

// Notifications exposes push messages (snapshots, errors, load
// confirmations) for UI panels. The channel is never closed while the proxy
// is open; slow consumers drop messages rather than block the dispatch loop.
func (p *Proxy) Notifications() <-chan protocol.Message { return p.notifications }

func (p *Proxy) receiveLoop() {
	for m := range p.tr.Receive() {
		switch msg := m.(type) {
		case *protocol.QueryReply:
			p.resolve(msg)
		case *protocol.RulesLoaded:
			p.onRulesLoaded(msg)
			p.notify(m)
		case *protocol.StateSnapshot:
			p.onSnapshot(msg.Snapshot)
			p.notify(m)
		case *protocol.ErrorPush:
			p.log.Warn("engine error", "message", msg.Message, "command", msg.OriginalCommand)
			p.notify(m)
		default:
			p.log.Warn("unexpected message at proxy", "type", m.MessageType())
		}
	}
	// The receive channel closing means the engine side is gone; nothing
	// in flight can complete, so reject everything at once.
	p.rejectAll(ErrTransportClosed)
	p.notify(&protocol.ErrorPush{Message: ErrTransportClosed.Error()})
}

func (p *Proxy) notify(m protocol.Message) {
	select {
	case p.notifications <- m:
	default:
		p.log.Warn("dropping notification, consumer too slow", "type", m.MessageType())
	}
}

func (p *Proxy) onRulesLoaded(msg *protocol.RulesLoaded) {
	p.mu.Lock()
	p.pack = msg.StaticData
	if msg.InitialSnapshot != nil {
		p.snapshot = msg.InitialSnapshot
		p.stale = false
	}
	p.maybeSignalReadyLocked()
	p.mu.Unlock()
}

func (p *Proxy) onSnapshot(snap *state.Snapshot) {
	if snap == nil {
		return
	}
	p.mu.Lock()
	p.snapshot = snap
	p.stale = false
	p.maybeSignalReadyLocked()
	p.mu.Unlock()
}

// maybeSignalReadyLocked fires the readiness gate once both prerequisites
// (static data and first snapshot) have arrived, in either order. The
// dedupe flag guarantees exactly one signal per rule-set load.
func (p *Proxy) maybeSignalReadyLocked() {
	if p.readySignalled || p.pack == nil || p.snapshot == nil {
		return
	}
	p.readySignalled = true
	close(p.readyCh)
}

// EnsureReady blocks until the first snapshot and the static rule-set data
// have both arrived, or the context is done.
func (p *Proxy) EnsureReady(ctx context.Context) error {
	p.mu.Lock()
	ready := p.readyCh
	p.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsPotentiallyStale reports whether a mutating command has been sent since
// the last snapshot arrived. It distinguishes "authoritative and fresh" from
// "might not yet reflect a command I just sent".
func (p *Proxy) IsPotentiallyStale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stale
}

// Snapshot returns the latest cached snapshot, or nil before the first load.
func (p *Proxy) Snapshot() *state.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// Pack returns the cached static data, or nil before the first load.
func (p *Proxy) Pack() *gamedef.Pack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pack
}

// Context returns a snapshot context over the cached state for synchronous,
// non-blocking rule evaluation. Safe to call from rendering code.
func (p *Proxy) Context() *state.SnapshotContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return state.NewSnapshotContext(p.snapshot, p.pack, nil)
}

// Commands. Fire-and-forget: no reply is expected, the UI waits for the
// next pushed snapshot instead. Every mutating send marks the cache
// potentially stale.

// LoadRules activates a new rule set. The readiness gate re-arms so the
// ready signal fires exactly once for the new load.
func (p *Proxy) LoadRules(rulesData json.RawMessage, info protocol.PlayerInfo) error {
	p.mu.Lock()
	p.readySignalled = false
	p.readyCh = make(chan struct{})
	p.pack = nil
	p.snapshot = nil
	p.mu.Unlock()
	return p.sendCommand(protocol.LoadRules{RulesData: rulesData, PlayerInfo: info})
}

func (p *Proxy) AddItem(item string, quantity int) error {
	return p.sendCommand(protocol.AddItem{Item: item, Quantity: quantity})
}

func (p *Proxy) CheckLocation(name string) error {
	return p.sendCommand(protocol.CheckLocation{LocationName: name})
}

func (p *Proxy) BeginBatch(deferRecomputation bool) error {
	return p.sendCommand(protocol.BeginBatch{DeferRecomputation: deferRecomputation})
}

func (p *Proxy) CommitBatch() error {
	return p.sendCommand(protocol.CommitBatch{})
}

func (p *Proxy) Reset() error {
	return p.sendCommand(protocol.ClearState{})
}

func (p *Proxy) sendCommand(m protocol.Message) error {
	p.mu.Lock()
	p.stale = true
	p.mu.Unlock()
	if err := p.tr.Send(m); err != nil {
		return fmt.Errorf("sending %s: %w", m.MessageType(), err)
	}
	return nil
}

// Queries. Each carries a locally generated correlation id; replies may
// arrive out of order relative to send order without ambiguity.

// GetFullSnapshot asks the engine for an authoritative snapshot.
func (p *Proxy) GetFullSnapshot(ctx context.Context) (*state.Snapshot, error) {
	raw, err := p.query(ctx, func(id string) protocol.Message {
		return protocol.GetSnapshot{QueryID: id}
	})
	if err != nil {
		return nil, err
	}
	var snap state.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot reply: %w", err)
	}
	return &snap, nil
}

// EvaluateRuleRemote evaluates a rule in the engine's full context. The
// result is always "true" or "false".
func (p *Proxy) EvaluateRuleRemote(ctx context.Context, rule json.RawMessage) (string, error) {
	node, err := rules.Parse(rule)
	if err != nil {
		return "", fmt.Errorf("parsing rule: %w", err)
	}
	raw, err := p.query(ctx, func(id string) protocol.Message {
		return protocol.EvaluateRule{QueryID: id, Rule: node}
	})
	if err != nil {
		return "", err
	}
	var result protocol.EvaluateRuleResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decoding evaluation reply: %w", err)
	}
	return result.Result, nil
}

// QueueStatus reports the engine's backlog and load state.
func (p *Proxy) QueueStatus(ctx context.Context) (*protocol.QueueStatusResult, error) {
	raw, err := p.query(ctx, func(id string) protocol.Message {
		return protocol.QueueStatus{QueryID: id}
	})
	if err != nil {
		return nil, err
	}
	var result protocol.QueueStatusResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding queue status reply: %w", err)
	}
	return &result, nil
}

func (p *Proxy) query(ctx context.Context, build func(queryID string) protocol.Message) (json.RawMessage, error) {
	id := uuid.New().String()
	ch := make(chan queryOutcome, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrTransportClosed
	}
	p.pending[id] = ch
	p.mu.Unlock()

	if err := p.tr.Send(build(id)); err != nil {
		p.remove(id)
		return nil, fmt.Errorf("sending query: %w", err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		return out.result, nil
	case <-timer.C:
		// Remove the pending entry so the eventual late reply, if any,
		// cannot resolve this query.
		p.remove(id)
		return nil, ErrTimeout
	case <-ctx.Done():
		p.remove(id)
		return nil, ctx.Err()
	}
}

func (p *Proxy) resolve(reply *protocol.QueryReply) {
	p.mu.Lock()
	ch, ok := p.pending[reply.QueryID]
	if ok {
		delete(p.pending, reply.QueryID)
	}
	p.mu.Unlock()
	if !ok {
		// Reply after timeout or for an unknown id: logged, not escalated.
		p.log.Debug("dropping reply with no pending query", "query_id", reply.QueryID)
		return
	}
	if reply.Error != "" {
		ch <- queryOutcome{err: errors.New(reply.Error)}
		return
	}
	ch <- queryOutcome{result: reply.Result}
}

func (p *Proxy) remove(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Proxy) rejectAll(err error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = map[string]chan queryOutcome{}
	p.closed = true
	p.mu.Unlock()
	for id, ch := range pending {
		p.log.Debug("rejecting in-flight query", "query_id", id, "error", err)
		ch <- queryOutcome{err: err}
	}
}

// Close shuts the transport and rejects anything in flight.
func (p *Proxy) Close() error {
	err := p.tr.Close()
	p.rejectAll(ErrTransportClosed)
	return err
}
