// Package events publishes ledger and coordinator activity to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rustyeddy/riskledger/coordinator"
	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/pkg/logger"
)

// Topics names the topic used for each event kind.
type Topics struct {
	Trades      string `json:"trades" yaml:"trades" mapstructure:"trades"`
	Equity      string `json:"equity" yaml:"equity" mapstructure:"equity"`
	Decisions   string `json:"decisions" yaml:"decisions" mapstructure:"decisions"`
	Leaderboard string `json:"leaderboard" yaml:"leaderboard" mapstructure:"leaderboard"`
}

func DefaultTopics() Topics {
	return Topics{
		Trades:      "riskledger.trades",
		Equity:      "riskledger.equity",
		Decisions:   "riskledger.decisions",
		Leaderboard: "riskledger.leaderboard",
	}
}

// Envelope wraps every published payload.
type Envelope struct {
	Type      string    `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Event types.
const (
	TypeTrade       = "TRADE_EXECUTED"
	TypeEquity      = "EQUITY_SNAPSHOT"
	TypeDecision    = "RISK_DECISION"
	TypeLeaderboard = "LEADERBOARD"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements ledger.Journal and coordinator.Sink.
type Publisher struct {
	writer messageWriter
	topics Topics
	log    *logger.Logger
	clock  func() time.Time
}

var (
	_ ledger.Journal   = (*Publisher)(nil)
	_ coordinator.Sink = (*Publisher)(nil)
)

// NewPublisher writes to brokers. The topic is chosen per message.
func NewPublisher(brokers []string, topics Topics, log *logger.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newPublisher(w, topics, log)
}

func newPublisher(w messageWriter, topics Topics, log *logger.Logger) *Publisher {
	return &Publisher{
		writer: w,
		topics: topics,
		log:    logger.OrNop(log).Named("events"),
		clock:  time.Now,
	}
}

func (p *Publisher) RecordTrade(ctx context.Context, tr ledger.TradeRecord) error {
	return p.publish(ctx, p.topics.Trades, tr.AccountID, Envelope{
		Type:      TypeTrade,
		AccountID: tr.AccountID,
		Timestamp: tr.Timestamp,
		Payload:   tr,
	})
}

func (p *Publisher) RecordEquity(ctx context.Context, s ledger.EquitySnapshot) error {
	return p.publish(ctx, p.topics.Equity, s.AccountID, Envelope{
		Type:      TypeEquity,
		AccountID: s.AccountID,
		Timestamp: p.clock().UTC(),
		Payload:   s,
	})
}

func (p *Publisher) PublishDecision(ctx context.Context, e coordinator.DecisionEvent) error {
	return p.publish(ctx, p.topics.Decisions, e.AccountID, Envelope{
		Type:      TypeDecision,
		AccountID: e.AccountID,
		Timestamp: e.At,
		Payload:   e,
	})
}

func (p *Publisher) PublishLeaderboard(ctx context.Context, at time.Time, standings []coordinator.Standing) error {
	return p.publish(ctx, p.topics.Leaderboard, "leaderboard", Envelope{
		Type:      TypeLeaderboard,
		Timestamp: at.UTC(),
		Payload:   standings,
	})
}

func (p *Publisher) publish(ctx context.Context, topic, key string, env Envelope) error {
	if strings.TrimSpace(topic) == "" {
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", env.Type, err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("kafka write failed",
			logger.StringField("topic", topic),
			logger.StringField("type", env.Type),
			logger.ErrorField(err))
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
