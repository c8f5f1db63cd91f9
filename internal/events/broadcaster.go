// Package events fans push messages out to auxiliary panels over Redis
// Pub/Sub. The fan-out is collaborator-grade plumbing: the proxy/engine
// protocol is correct without it, and a nil Broadcaster disables it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lockpick/tracker/pkg/protocol"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeReady    EventType = "session.ready"
	EventTypeSnapshot EventType = "session.snapshot"
	EventTypeError    EventType = "session.error"
)

// Event wraps a push message for pub/sub distribution.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Broadcaster publishes session events to Redis Pub/Sub.
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// Channel returns the pub/sub channel for a session.
func Channel(sessionID uuid.UUID) string {
	return fmt.Sprintf("tracker:%s", sessionID.String())
}

// PublishReady publishes a session.ready event, sent once per rule-set load.
func (b *Broadcaster) PublishReady(ctx context.Context, sessionID uuid.UUID, game string) error {
	payload, err := json.Marshal(map[string]string{"game": game})
	if err != nil {
		return err
	}
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeReady,
		SessionID: sessionID.String(),
		Payload:   payload,
	})
}

// PublishSnapshot publishes a stateSnapshot push to followers.
func (b *Broadcaster) PublishSnapshot(ctx context.Context, sessionID uuid.UUID, push protocol.StateSnapshot) error {
	payload, err := json.Marshal(push)
	if err != nil {
		return err
	}
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeSnapshot,
		SessionID: sessionID.String(),
		Payload:   payload,
	})
}

// PublishError publishes an error push to followers.
func (b *Broadcaster) PublishError(ctx context.Context, sessionID uuid.UUID, push protocol.ErrorPush) error {
	payload, err := json.Marshal(push)
	if err != nil {
		return err
	}
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeError,
		SessionID: sessionID.String(),
		Payload:   payload,
	})
}

func (b *Broadcaster) publish(ctx context.Context, sessionID uuid.UUID, event Event) error {
	if b == nil || b.redisClient == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.redisClient.Publish(ctx, Channel(sessionID), data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "type", event.Type, "session_id", sessionID)
		return fmt.Errorf("failed to publish event: %w", err)
	}
	b.logger.Debug("Published event", "type", event.Type, "session_id", sessionID)
	return nil
}

// Subscribe returns a channel of events for one session. The caller owns the
// returned PubSub and must close it to stop the goroutine.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID uuid.UUID) (*redis.PubSub, <-chan Event) {
	pubsub := b.redisClient.Subscribe(ctx, Channel(sessionID))
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("Dropping undecodable event", "error", err)
				continue
			}
			out <- ev
		}
	}()
	return pubsub, out
}
