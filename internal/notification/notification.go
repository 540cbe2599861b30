package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	// KindDepositCredited is sent once a deposit has been committed to the ledger.
	KindDepositCredited = "deposit_credited"
	// KindEffectFailed reports a degraded success: the ledger write stands but
	// an on-chain follow-up did not complete.
	KindEffectFailed = "effect_failed"
	// KindRewardRedeemed is sent when a redemption is committed and handed to fulfillment.
	KindRewardRedeemed = "reward_redeemed"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	EntryID     string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	level := slog.LevelInfo
	if message.Kind == KindEffectFailed {
		level = slog.LevelWarn
	}
	n.logger.Log(context.Background(), level, "notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("entry_id", message.EntryID),
		slog.String("body", message.Body),
	)
	return nil
}

// Recorder keeps sent messages in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Send appends the message.
func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
