package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/lockpick/tracker/internal/events"
	"github.com/lockpick/tracker/internal/transport"
	"github.com/lockpick/tracker/pkg/gamedef"
	"github.com/lockpick/tracker/pkg/protocol"
	"github.com/lockpick/tracker/pkg/rules"
	"github.com/lockpick/tracker/pkg/storage"
)

// Runner drives one engine from a transport, processing messages strictly in
// arrival order on a single goroutine. Commands mutate and answer with the
// next pushed snapshot; queries get exactly one correlated reply.
type Runner struct {
	engine *Engine
	tr     transport.Transport
	store  storage.Storage
	bcast  *events.Broadcaster
	log    *slog.Logger
}

// RunnerOption configures optional collaborators.
type RunnerOption func(*Runner)

// WithStorage persists the session after every committed mutation.
func WithStorage(s storage.Storage) RunnerOption {
	return func(r *Runner) { r.store = s }
}

// WithBroadcaster fans pushes out to auxiliary panels.
func WithBroadcaster(b *events.Broadcaster) RunnerOption {
	return func(r *Runner) { r.bcast = b }
}

// NewRunner wires an engine to its transport endpoint.
func NewRunner(e *Engine, tr transport.Transport, log *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{engine: e, tr: tr, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes messages until the transport closes or the context is
// cancelled. It never returns a message-level error: malformed input is
// answered with an error push or reply and processing continues.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("engine runner started", "session", r.engine.SessionID())
	for {
		select {
		case <-ctx.Done():
			r.log.Info("engine runner stopping", "session", r.engine.SessionID())
			return nil
		case m, ok := <-r.tr.Receive():
			if !ok {
				r.log.Info("transport closed, engine runner exiting", "session", r.engine.SessionID())
				return nil
			}
			r.handle(ctx, m)
		}
	}
}

func (r *Runner) handle(ctx context.Context, m protocol.Message) {
	switch msg := m.(type) {
	case *protocol.LoadRules:
		r.handleLoadRules(ctx, msg)

	case *protocol.AddItem:
		if err := r.engine.AddItem(msg.Item, msg.Quantity); err != nil {
			r.pushError(ctx, err.Error(), protocol.TypeAddItem)
			return
		}
		r.emitIfUnbatched(ctx)

	case *protocol.CheckLocation:
		if err := r.engine.CheckLocation(msg.LocationName); err != nil {
			r.pushError(ctx, err.Error(), protocol.TypeCheckLocation)
			return
		}
		r.emitIfUnbatched(ctx)

	case *protocol.BeginBatch:
		r.engine.BeginBatch(msg.DeferRecomputation)

	case *protocol.CommitBatch:
		r.engine.CommitBatch()
		r.emit(ctx)

	case *protocol.ClearState:
		r.engine.Reset()
		r.emit(ctx)

	case *protocol.GetSnapshot:
		snap := r.engine.Snapshot()
		if snap == nil {
			r.reply(protocol.QueryReply{QueryID: msg.QueryID, Error: "no rule pack loaded"})
			return
		}
		r.replyResult(msg.QueryID, snap)

	case *protocol.EvaluateRule:
		if r.engine.Pack() == nil {
			r.reply(protocol.QueryReply{QueryID: msg.QueryID, Error: "no rule pack loaded"})
			return
		}
		v := rules.Decide(msg.Rule, r.engine.Context())
		r.replyResult(msg.QueryID, protocol.EvaluateRuleResult{Result: triString(v)})

	case *protocol.QueueStatus:
		r.replyResult(msg.QueryID, protocol.QueueStatusResult{
			Pending:    len(r.tr.Receive()),
			BatchOpen:  r.engine.BatchOpen(),
			PackLoaded: r.engine.Pack() != nil,
			Game:       r.gameName(),
		})

	default:
		// Replies and pushes arriving at the engine are a peer bug; log and
		// move on rather than escalate.
		r.log.Warn("unexpected message at engine", "type", m.MessageType())
	}
}

func (r *Runner) handleLoadRules(ctx context.Context, msg *protocol.LoadRules) {
	var pack gamedef.Pack
	if err := json.Unmarshal(msg.RulesData, &pack); err != nil {
		r.pushError(ctx, "decoding rule pack: "+err.Error(), protocol.TypeLoadRules)
		return
	}
	if err := r.engine.LoadPack(&pack, msg.PlayerInfo); err != nil {
		r.pushError(ctx, err.Error(), protocol.TypeLoadRules)
		return
	}

	snap := r.engine.Snapshot()
	r.send(protocol.RulesLoaded{InitialSnapshot: snap, StaticData: &pack})
	r.persist(ctx)
	if r.bcast != nil {
		if err := r.bcast.PublishReady(ctx, r.engine.SessionID(), pack.Game); err != nil {
			r.log.Warn("failed to broadcast ready", "error", err)
		}
	}
}

// emitIfUnbatched suppresses snapshot emission inside a batch window so N
// mutations cost one recomputation and one push at commit.
func (r *Runner) emitIfUnbatched(ctx context.Context) {
	if r.engine.BatchOpen() {
		return
	}
	r.emit(ctx)
}

func (r *Runner) emit(ctx context.Context) {
	snap := r.engine.Snapshot()
	if snap == nil {
		return
	}
	push := protocol.StateSnapshot{Snapshot: snap}
	r.send(push)
	r.persist(ctx)
	if r.bcast != nil {
		if err := r.bcast.PublishSnapshot(ctx, r.engine.SessionID(), push); err != nil {
			r.log.Warn("failed to broadcast snapshot", "error", err)
		}
	}
}

func (r *Runner) persist(ctx context.Context) {
	if r.store == nil || r.engine.Pack() == nil {
		return
	}
	session := &storage.Session{
		ID:        r.engine.SessionID(),
		Game:      r.engine.Pack().Game,
		Player:    r.engine.player.Player,
		Inventory: r.engine.Inventory(),
		Flags:     r.engine.Flags(),
	}
	if err := r.store.SaveSession(ctx, session); err != nil {
		r.log.Warn("failed to persist session", "error", err)
	}
}

func (r *Runner) pushError(ctx context.Context, message, originalCommand string) {
	r.log.Warn("command failed", "command", originalCommand, "error", message)
	push := protocol.ErrorPush{Message: message, OriginalCommand: originalCommand}
	r.send(push)
	if r.bcast != nil {
		if err := r.bcast.PublishError(ctx, r.engine.SessionID(), push); err != nil {
			r.log.Warn("failed to broadcast error", "error", err)
		}
	}
}

func (r *Runner) replyResult(queryID string, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		r.reply(protocol.QueryReply{QueryID: queryID, Error: "encoding result: " + err.Error()})
		return
	}
	r.reply(protocol.QueryReply{QueryID: queryID, Result: data})
}

func (r *Runner) reply(reply protocol.QueryReply) {
	r.send(reply)
}

func (r *Runner) send(m protocol.Message) {
	if err := r.tr.Send(m); err != nil {
		r.log.Error("failed to send message", "type", m.MessageType(), "error", err)
	}
}

func (r *Runner) gameName() string {
	if p := r.engine.Pack(); p != nil {
		return p.Game
	}
	return ""
}

func triString(v rules.Value) string {
	switch {
	case v.IsTrue():
		return "true"
	case v.IsFalse():
		return "false"
	default:
		return "unknown"
	}
}
