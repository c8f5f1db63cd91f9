// Package protocol defines the message shapes exchanged between the
// foreground proxy and the background engine. Commands are fire-and-forget
// mutations, queries expect exactly one correlated reply, and pushes are
// unsolicited engine-to-proxy messages.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/lockpick/tracker/pkg/gamedef"
	"github.com/lockpick/tracker/pkg/rules"
	"github.com/lockpick/tracker/pkg/state"
)

// Message is any envelope that can cross the transport.
type Message interface {
	MessageType() string
}

// Message type tags.
const (
	TypeLoadRules         = "loadRules"
	TypeAddItem           = "addItemToInventory"
	TypeCheckLocation     = "checkLocation"
	TypeBeginBatch        = "beginBatchUpdate"
	TypeCommitBatch       = "commitBatchUpdate"
	TypeClearState        = "clearStateAndReset"
	TypeGetSnapshot       = "getFullSnapshot"
	TypeEvaluateRule      = "evaluateRuleRemote"
	TypeQueueStatus       = "getWorkerQueueStatus"
	TypeQueryReply        = "queryReply"
	TypeRulesLoaded       = "rulesLoadedConfirmation"
	TypeStateSnapshot     = "stateSnapshot"
	TypeError             = "error"
)

// PlayerInfo identifies the player a session tracks.
type PlayerInfo struct {
	Player string `json:"player"`
	Game   string `json:"game,omitempty"`
}

// Commands (proxy -> engine, no reply; the proxy waits for the next pushed
// snapshot instead).

type LoadRules struct {
	Type       string          `json:"type"`
	RulesData  json.RawMessage `json:"rulesData"`
	PlayerInfo PlayerInfo      `json:"playerInfo"`
}

func (m LoadRules) MessageType() string { return TypeLoadRules }

type AddItem struct {
	Type     string `json:"type"`
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

func (m AddItem) MessageType() string { return TypeAddItem }

type CheckLocation struct {
	Type         string `json:"type"`
	LocationName string `json:"locationName"`
}

func (m CheckLocation) MessageType() string { return TypeCheckLocation }

type BeginBatch struct {
	Type               string `json:"type"`
	DeferRecomputation bool   `json:"deferRecomputation"`
}

func (m BeginBatch) MessageType() string { return TypeBeginBatch }

type CommitBatch struct {
	Type string `json:"type"`
}

func (m CommitBatch) MessageType() string { return TypeCommitBatch }

type ClearState struct {
	Type string `json:"type"`
}

func (m ClearState) MessageType() string { return TypeClearState }

// Queries (proxy -> engine, exactly one correlated reply).

type GetSnapshot struct {
	Type    string `json:"type"`
	QueryID string `json:"queryId"`
}

func (m GetSnapshot) MessageType() string { return TypeGetSnapshot }

type EvaluateRule struct {
	Type    string      `json:"type"`
	QueryID string      `json:"queryId"`
	Rule    *rules.Node `json:"rule"`
}

func (m EvaluateRule) MessageType() string { return TypeEvaluateRule }

type QueueStatus struct {
	Type    string `json:"type"`
	QueryID string `json:"queryId"`
}

func (m QueueStatus) MessageType() string { return TypeQueueStatus }

// QueryReply carries either a result or an error, never both.
type QueryReply struct {
	Type    string          `json:"type"`
	QueryID string          `json:"queryId"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (m QueryReply) MessageType() string { return TypeQueryReply }

// Pushes (engine -> proxy, unsolicited).

type RulesLoaded struct {
	Type            string          `json:"type"`
	InitialSnapshot *state.Snapshot `json:"initialSnapshot"`
	StaticData      *gamedef.Pack   `json:"staticData"`
}

func (m RulesLoaded) MessageType() string { return TypeRulesLoaded }

type StateSnapshot struct {
	Type     string          `json:"type"`
	Snapshot *state.Snapshot `json:"snapshot"`
}

func (m StateSnapshot) MessageType() string { return TypeStateSnapshot }

type ErrorPush struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	OriginalCommand string `json:"originalCommand,omitempty"`
}

func (m ErrorPush) MessageType() string { return TypeError }

// Encode marshals a message, stamping its type tag.
func Encode(m Message) ([]byte, error) {
	type tagged interface{ MessageType() string }
	// Marshal via a map merge so callers never have to set Type by hand.
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(m.(tagged).MessageType())
	if err != nil {
		return nil, err
	}
	obj["type"] = tag
	return json.Marshal(obj)
}

// Decode parses a wire frame into its concrete message type.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding message header: %w", err)
	}

	var m Message
	switch head.Type {
	case TypeLoadRules:
		m = &LoadRules{}
	case TypeAddItem:
		m = &AddItem{}
	case TypeCheckLocation:
		m = &CheckLocation{}
	case TypeBeginBatch:
		m = &BeginBatch{}
	case TypeCommitBatch:
		m = &CommitBatch{}
	case TypeClearState:
		m = &ClearState{}
	case TypeGetSnapshot:
		m = &GetSnapshot{}
	case TypeEvaluateRule:
		m = &EvaluateRule{}
	case TypeQueueStatus:
		m = &QueueStatus{}
	case TypeQueryReply:
		m = &QueryReply{}
	case TypeRulesLoaded:
		m = &RulesLoaded{}
	case TypeStateSnapshot:
		m = &StateSnapshot{}
	case TypeError:
		m = &ErrorPush{}
	default:
		return nil, fmt.Errorf("unknown message type %q", head.Type)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", head.Type, err)
	}
	return m, nil
}

// IsCommand reports whether a message is a fire-and-forget mutation.
func IsCommand(m Message) bool {
	switch m.MessageType() {
	case TypeLoadRules, TypeAddItem, TypeCheckLocation, TypeBeginBatch, TypeCommitBatch, TypeClearState:
		return true
	}
	return false
}

// QueueStatusResult is the reply payload for getWorkerQueueStatus.
type QueueStatusResult struct {
	Pending    int    `json:"pending"`
	BatchOpen  bool   `json:"batchOpen"`
	PackLoaded bool   `json:"packLoaded"`
	Game       string `json:"game,omitempty"`
}

// EvaluateRuleResult is the reply payload for evaluateRuleRemote. Unknown is
// impossible with the engine's full context, but the field is tri-valued for
// symmetry with foreground evaluation.
type EvaluateRuleResult struct {
	Result string `json:"result"` // "true" | "false" | "unknown"
}
