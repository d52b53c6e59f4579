// Package notify delivers promotion prompts. Two independent audiences are
// served: the agent session, over NATS, and the human operator, through the
// structured log.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/promotion"
)

// DefaultSubjectPrefix is the NATS subject root for prompt messages.
const DefaultSubjectPrefix = "tiermem.prompts"

// Connect dials NATS with reconnect behaviour suitable for a long-lived
// server.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("tiermem"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSSink publishes prompts to "<prefix>.<agent>" for the agent session to
// pick up.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSink returns a sink publishing on nc.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{nc: nc, prefix: prefix}
}

// Subject returns the subject prompts for agentID are published on.
func (s *NATSSink) Subject(agentID string) string {
	return s.prefix + "." + subjectToken(agentID)
}

// Notify publishes p as JSON.
func (s *NATSSink) Notify(ctx context.Context, p promotion.Prompt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(message{Prompt: p, Text: p.Text()})
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}
	if err := s.nc.Publish(s.Subject(p.AgentID), data); err != nil {
		return fmt.Errorf("publish prompt %s: %w", p.ID, err)
	}
	return nil
}

type message struct {
	promotion.Prompt
	Text string `json:"text"`
}

// subjectToken replaces characters NATS treats specially.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// LogSink writes prompts to a zap logger for the operator.
type LogSink struct {
	logger   *zap.Logger
	audience string
}

// NewLogSink returns a sink that logs for the named audience.
func NewLogSink(logger *zap.Logger, audience string) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger, audience: audience}
}

// Notify logs p at warn level so it stands out in operator output.
func (s *LogSink) Notify(_ context.Context, p promotion.Prompt) error {
	s.logger.Warn("tier promotion available",
		zap.String("audience", s.audience),
		zap.String("prompt_id", p.ID),
		zap.String("agent_id", p.AgentID),
		zap.String("key", p.Key),
		zap.Stringer("tier", p.Tier),
		zap.Int("access_count", p.AccessCount),
		zap.Int("bonus_days", p.BonusDays),
		zap.String("preview", p.Preview),
	)
	return nil
}

// Fanout delivers to every sink. A failing sink does not stop the others.
type Fanout []promotion.Sink

// Notify calls each sink in order and joins their errors.
func (f Fanout) Notify(ctx context.Context, p promotion.Prompt) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
