package backplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"chathub/internal/pkg/logx"
)

// NATSConfig holds the connection settings for the NATS backplane.
type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	InstanceID    string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NATS relays envelopes over core NATS subjects:
// <prefix>.all for global events and <prefix>.room.<token> for room events.
type NATS struct {
	cfg    NATSConfig
	nc     *nats.Conn
	logger zerolog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATS connects to the NATS server.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.URL == "" {
		return nil, errors.New("backplane: nats url missing")
	}
	if cfg.SubjectPrefix == "" {
		return nil, errors.New("backplane: nats subject prefix missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	logger := logx.Component("backplane").With().Str("instance", cfg.InstanceID).Logger()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("backplane: nats connect %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS backplane connected")

	return &NATS{cfg: cfg, nc: nc, logger: logger}, nil
}

// Subject returns the NATS subject for env.
func Subject(prefix string, env Envelope) string {
	if env.Scope == ScopeAll {
		return prefix + ".all"
	}
	return prefix + ".room." + subjectToken(env.Room)
}

// subjectToken makes a room name safe as a single subject token.
func subjectToken(room string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, room)
}

// Publish implements Backplane.
func (b *NATS) Publish(_ context.Context, env Envelope) error {
	if env.Origin == "" {
		env.Origin = b.cfg.InstanceID
	}
	if err := env.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("backplane: marshal envelope: %w", err)
	}

	if err := b.nc.Publish(Subject(b.cfg.SubjectPrefix, env), data); err != nil {
		return fmt.Errorf("backplane: nats publish: %w", err)
	}
	return nil
}

// Subscribe implements Backplane.
func (b *NATS) Subscribe(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		return errors.New("backplane: already subscribed")
	}

	sub, err := b.nc.Subscribe(b.cfg.SubjectPrefix+".>", func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed envelope")
			return
		}
		if env.Origin == b.cfg.InstanceID {
			return
		}
		if err := env.Validate(); err != nil {
			b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping invalid envelope")
			return
		}
		h(env)
	})
	if err != nil {
		return fmt.Errorf("backplane: nats subscribe: %w", err)
	}

	b.sub = sub
	return nil
}

// Close implements Backplane.
func (b *NATS) Close() error {
	b.mu.Lock()
	if b.sub != nil {
		_ = b.sub.Drain()
		b.sub = nil
	}
	b.mu.Unlock()

	return b.nc.Drain()
}
