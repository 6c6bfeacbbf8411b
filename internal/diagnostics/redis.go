// Package diagnostics fans exec lifecycle events out to live dashboards.
// It retargets the teacher's job-result broadcast path
// (internal/platform/queue/redis.go Broadcast/SubscribeLogs +
// cmd/server/main.go's clientHub/broadcastLogs) from "job execution
// results" to "runner.Orchestrator exec events": publish to a Redis
// channel, fan out to WebSocket-connected dashboard clients.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one diagnostic record published for an Exec call.
type Event struct {
	ExecID    string         `json:"exec_id"`
	Mnemonic  string         `json:"mnemonic"`
	Kind      string         `json:"kind"` // "fallback" | "completed" | "failed"
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const channelName = "workerspawn:events"

// RedisPublisher implements runner.EventSink over a Redis Pub/Sub channel.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wires a Redis client the same way the teacher's
// queue.NewRedisQueue does: fail-fast ping on construction.
func NewRedisPublisher(addr string) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPublisher{client: rdb}, nil
}

// Emit publishes one Event, matching runner.EventSink's shape. The event
// is stamped with time.Now() here, at publish time.
func (p *RedisPublisher) Emit(execID, mnemonic, event string, fields map[string]any) {
	data, err := json.Marshal(Event{
		ExecID:    execID,
		Mnemonic:  mnemonic,
		Kind:      event,
		Fields:    fields,
		Timestamp: time.Now(),
	})
	if err != nil {
		slog.Error("failed to marshal diagnostic event", "error", err)
		return
	}

	if err := p.client.Publish(context.Background(), channelName, data).Err(); err != nil {
		slog.Error("failed to publish diagnostic event", "error", err)
	}
}

// Subscribe returns a channel streaming decoded Events, exactly the shape
// of the teacher's SubscribeLogs.
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := p.client.Subscribe(ctx, channelName)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to diagnostics: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					slog.Error("failed to unmarshal diagnostic event", "error", err)
					continue
				}
				out <- evt
			}
		}
	}()
	return out, nil
}
