package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockpick/tracker/internal/transport"
	"github.com/lockpick/tracker/pkg/protocol"
	"github.com/lockpick/tracker/pkg/storage"
)

const packSource = `{
	"game": "cavern",
	"items": {
		"Lamp": {"name": "Lamp", "max": 1},
		"Key":  {"name": "Key", "max": 5}
	},
	"regions": {
		"Menu": {"name": "Menu", "start": true, "exits": [{"to": "Cave", "rule": {"type": "item_check", "item": "Lamp"}}]},
		"Cave": {"name": "Cave"}
	},
	"locations": {
		"Doorstep":   {"name": "Doorstep", "region": "Menu"},
		"Cave Chest": {"name": "Cave Chest", "region": "Cave"}
	}
}`

// startRunner wires a fresh engine to one end of an in-process pair and
// returns the other end plus a cancel for teardown.
func startRunner(t *testing.T, opts ...RunnerOption) transport.Transport {
	t.Helper()
	engineSide, proxySide := transport.Pair()
	r := NewRunner(New(testLogger(), nil), engineSide, testLogger(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = proxySide.Close()
		_ = engineSide.Close()
		<-done
	})
	return proxySide
}

func receiveMessage(t *testing.T, tr transport.Transport) protocol.Message {
	t.Helper()
	select {
	case m, ok := <-tr.Receive():
		require.True(t, ok, "transport closed while waiting for message")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func sendLoadRules(t *testing.T, tr transport.Transport) *protocol.RulesLoaded {
	t.Helper()
	require.NoError(t, tr.Send(protocol.LoadRules{
		RulesData:  json.RawMessage(packSource),
		PlayerInfo: protocol.PlayerInfo{Player: "p1"},
	}))
	m := receiveMessage(t, tr)
	loaded, ok := m.(*protocol.RulesLoaded)
	require.True(t, ok, "got %T, want RulesLoaded", m)
	return loaded
}

func TestLoadRulesConfirmation(t *testing.T) {
	tr := startRunner(t)
	loaded := sendLoadRules(t, tr)

	require.NotNil(t, loaded.StaticData)
	assert.Equal(t, "cavern", loaded.StaticData.Game)
	require.NotNil(t, loaded.InitialSnapshot)
	assert.Equal(t, "p1", loaded.InitialSnapshot.Player)
}

func TestCommandsAnswerWithSnapshots(t *testing.T) {
	tr := startRunner(t)
	sendLoadRules(t, tr)

	require.NoError(t, tr.Send(protocol.AddItem{Item: "Lamp", Quantity: 1}))
	m := receiveMessage(t, tr)
	push, ok := m.(*protocol.StateSnapshot)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, 1, push.Snapshot.Inventory["Lamp"])

	require.NoError(t, tr.Send(protocol.CheckLocation{LocationName: "Doorstep"}))
	m = receiveMessage(t, tr)
	push, ok = m.(*protocol.StateSnapshot)
	require.True(t, ok, "got %T", m)
	assert.Contains(t, push.Snapshot.Flags, "Doorstep")
}

func TestBatchSuppressesIntermediateSnapshots(t *testing.T) {
	tr := startRunner(t)
	sendLoadRules(t, tr)

	require.NoError(t, tr.Send(protocol.BeginBatch{DeferRecomputation: true}))
	require.NoError(t, tr.Send(protocol.AddItem{Item: "Lamp", Quantity: 1}))
	require.NoError(t, tr.Send(protocol.AddItem{Item: "Key", Quantity: 2}))
	require.NoError(t, tr.Send(protocol.CommitBatch{}))

	// Exactly one snapshot arrives, reflecting the whole batch.
	m := receiveMessage(t, tr)
	push, ok := m.(*protocol.StateSnapshot)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, 1, push.Snapshot.Inventory["Lamp"])
	assert.Equal(t, 2, push.Snapshot.Inventory["Key"])

	select {
	case m := <-tr.Receive():
		t.Fatalf("unexpected extra message %T", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInvalidCommandGetsErrorPush(t *testing.T) {
	tr := startRunner(t)
	sendLoadRules(t, tr)

	require.NoError(t, tr.Send(protocol.AddItem{Item: "Crown", Quantity: 1}))
	m := receiveMessage(t, tr)
	push, ok := m.(*protocol.ErrorPush)
	require.True(t, ok, "got %T", m)
	assert.Contains(t, push.Message, "Crown")
	assert.Equal(t, protocol.TypeAddItem, push.OriginalCommand)
}

func TestQueriesGetCorrelatedReplies(t *testing.T) {
	tr := startRunner(t)
	sendLoadRules(t, tr)

	require.NoError(t, tr.Send(protocol.GetSnapshot{QueryID: "q1"}))
	m := receiveMessage(t, tr)
	reply, ok := m.(*protocol.QueryReply)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, "q1", reply.QueryID)
	assert.Empty(t, reply.Error)

	require.NoError(t, tr.Send(protocol.QueueStatus{QueryID: "q2"}))
	m = receiveMessage(t, tr)
	reply, ok = m.(*protocol.QueryReply)
	require.True(t, ok)
	assert.Equal(t, "q2", reply.QueryID)

	var status protocol.QueueStatusResult
	require.NoError(t, json.Unmarshal(reply.Result, &status))
	assert.True(t, status.PackLoaded)
	assert.Equal(t, "cavern", status.Game)
}

func TestEvaluateRuleRemoteIsDefinite(t *testing.T) {
	tr := startRunner(t)
	sendLoadRules(t, tr)

	rule, err := parseRule(`{"type":"item_check","item":"Lamp"}`)
	require.NoError(t, err)
	require.NoError(t, tr.Send(protocol.EvaluateRule{QueryID: "q1", Rule: rule}))

	m := receiveMessage(t, tr)
	reply, ok := m.(*protocol.QueryReply)
	require.True(t, ok)

	var result protocol.EvaluateRuleResult
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	assert.Equal(t, "false", result.Result)
}

func TestQueryBeforeLoadIsAnErrorReply(t *testing.T) {
	tr := startRunner(t)

	require.NoError(t, tr.Send(protocol.GetSnapshot{QueryID: "q1"}))
	m := receiveMessage(t, tr)
	reply, ok := m.(*protocol.QueryReply)
	require.True(t, ok)
	assert.Contains(t, reply.Error, "no rule pack loaded")
}

func TestClearStateResets(t *testing.T) {
	tr := startRunner(t)
	sendLoadRules(t, tr)

	require.NoError(t, tr.Send(protocol.AddItem{Item: "Lamp", Quantity: 1}))
	receiveMessage(t, tr)

	require.NoError(t, tr.Send(protocol.ClearState{}))
	m := receiveMessage(t, tr)
	push, ok := m.(*protocol.StateSnapshot)
	require.True(t, ok)
	assert.Empty(t, push.Snapshot.Inventory)
	assert.Empty(t, push.Snapshot.Flags)
}

func TestRunnerPersistsSessions(t *testing.T) {
	store := storage.NewMockStorage()
	tr := startRunner(t, WithStorage(store))
	loaded := sendLoadRules(t, tr)

	require.NoError(t, tr.Send(protocol.AddItem{Item: "Key", Quantity: 2}))
	receiveMessage(t, tr)

	// Persistence happens on the runner goroutine right before the push, so
	// the session is visible once the snapshot arrived.
	session, err := store.LoadSession(context.Background(), loaded.InitialSnapshot.SessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "cavern", session.Game)
	assert.Equal(t, 2, session.Inventory["Key"])
}
