// Package cache mirrors live race sessions into a NATS JetStream key-value
// bucket with a bounded TTL. The mirror is a crash-recovery aid only; writes
// are best-effort and the session store never depends on it for reads.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/typosquad/typerace/internal/models"
)

// Config holds settings for the session mirror bucket.
type Config struct {
	URL           string
	Bucket        string
	TTL           time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the default mirror configuration. The TTL doubles as
// the upper bound on how long an abandoned race can linger.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Bucket:        "race-sessions",
		TTL:           time.Hour,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// SessionMirror implements session.Mirror on top of a JetStream KV bucket.
type SessionMirror struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// NewSessionMirror connects to NATS and creates (or reuses) the mirror bucket.
func NewSessionMirror(ctx context.Context, config Config) (*SessionMirror, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: "live race session mirror",
		TTL:         config.TTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create KV bucket %q: %w", config.Bucket, err)
	}

	return &SessionMirror{nc: nc, kv: kv}, nil
}

// Put writes the session snapshot under the room key.
func (m *SessionMirror) Put(ctx context.Context, roomID uuid.UUID, sess *models.RaceSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if _, err := m.kv.Put(ctx, roomID.String(), data); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

// Delete removes the room key. A missing key is not an error; the TTL may
// have expired it already.
func (m *SessionMirror) Delete(ctx context.Context, roomID uuid.UUID) error {
	if err := m.kv.Delete(ctx, roomID.String()); err != nil && err != jetstream.ErrKeyNotFound {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// Conn exposes the underlying NATS connection for publishers sharing it.
func (m *SessionMirror) Conn() *nats.Conn {
	return m.nc
}

// Close drains the NATS connection.
func (m *SessionMirror) Close() {
	m.nc.Close()
}
