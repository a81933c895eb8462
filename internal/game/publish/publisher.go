// Package publish announces persisted race records on JetStream. Leaderboard
// aggregation runs as a separate consumer of this stream.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/typosquad/typerace/internal/models"
)

// JetStreamConfig holds settings for the game-events stream.
type JetStreamConfig struct {
	StreamName    string
	SubjectPrefix string
	MaxAge        time.Duration
	Replicas      int
}

// DefaultJetStreamConfig returns the default stream configuration.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		StreamName:    "GAME_EVENTS",
		SubjectPrefix: "game.finished",
		MaxAge:        7 * 24 * time.Hour,
		Replicas:      1,
	}
}

// JetStreamPublisher publishes game-finished events on a shared NATS
// connection.
type JetStreamPublisher struct {
	js     jetstream.JetStream
	config JetStreamConfig
}

// NewJetStreamPublisher wraps an existing NATS connection and ensures the
// game-events stream exists.
func NewJetStreamPublisher(ctx context.Context, nc *nats.Conn, config JetStreamConfig) (*JetStreamPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     config.StreamName,
		Subjects: []string{config.SubjectPrefix + ".>"},
		MaxAge:   config.MaxAge,
		Replicas: config.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %q: %w", config.StreamName, err)
	}

	return &JetStreamPublisher{js: js, config: config}, nil
}

// PublishGameFinished publishes the persisted record keyed by room subject.
func (p *JetStreamPublisher) PublishGameFinished(ctx context.Context, record *models.GameRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal game record: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, record.RoomID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
