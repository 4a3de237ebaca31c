// Package notify delivers operator alerts for trading lifecycle events over
// one or more channels (Telegram, Discord). Delivery is decoupled from the
// trading path by a bounded queue: enqueueing never blocks, and a full queue
// drops the alert rather than stalling an exit.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Trading lifecycle events. The configured event filter uses these names.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
	EventTierTriggered  = "tier_triggered"
	EventStopLoss       = "stop_loss"
	EventSignalRejected = "signal_rejected"
	EventError          = "error"
)

// sendTimeout bounds one delivery attempt across all senders.
const sendTimeout = 15 * time.Second

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type alert struct {
	event   string
	title   string
	message string
}

// Notifier filters events and dispatches the surviving alerts from a worker
// goroutine. Construct it with NewNotifier and drive it with Run.
type Notifier struct {
	logger  *slog.Logger
	senders []Sender
	events  map[string]bool // empty means all events pass
	queue   chan alert
}

// NewNotifier builds a Notifier delivering to the given senders. events names
// the allowed event types; an empty list allows everything.
func NewNotifier(logger *slog.Logger, senders []Sender, events []string) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		logger:  logger.With(slog.String("component", "notifier")),
		senders: senders,
		events:  allowed,
		queue:   make(chan alert, 64),
	}
}

// Notify enqueues an alert for delivery. Filtered events and alerts dropped
// on a full queue return nil: notification loss is never a trading error.
func (n *Notifier) Notify(_ context.Context, event, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		return nil
	}

	select {
	case n.queue <- alert{event: event, title: title, message: message}:
	default:
		n.logger.Warn("alert queue full, dropping",
			slog.String("event", event),
			slog.String("title", title))
	}
	return nil
}

// Run drains the queue until ctx is cancelled, then flushes whatever is
// already enqueued.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.flush()
			return ctx.Err()
		case a := <-n.queue:
			n.dispatch(a)
		}
	}
}

// flush delivers the remaining queued alerts on shutdown.
func (n *Notifier) flush() {
	for {
		select {
		case a := <-n.queue:
			n.dispatch(a)
		default:
			return
		}
	}
}

// dispatch fans one alert out to every sender. A failing sender never blocks
// the others; failures are logged per sender.
func (n *Notifier) dispatch(a alert) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	for _, s := range n.senders {
		if err := s.Send(ctx, a.title, a.message); err != nil {
			n.logger.Error("alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", a.event),
				slog.String("error", err.Error()))
			continue
		}
		n.logger.Debug("alert delivered",
			slog.String("sender", s.Name()),
			slog.String("event", a.event))
	}
}

// SendersFromConfig builds the sender list for the configured channels.
// Unconfigured channels are skipped.
func SendersFromConfig(telegramToken, telegramChatID, discordWebhook string) []Sender {
	var senders []Sender
	if telegramToken != "" && telegramChatID != "" {
		senders = append(senders, NewTelegramSender(telegramToken, telegramChatID))
	}
	if discordWebhook != "" {
		senders = append(senders, NewDiscordSender(discordWebhook))
	}
	return senders
}

// String renders the sender list for start-up logging.
func (n *Notifier) String() string {
	names := make([]string, 0, len(n.senders))
	for _, s := range n.senders {
		names = append(names, s.Name())
	}
	if len(names) == 0 {
		return "notifier(disabled)"
	}
	return fmt.Sprintf("notifier(%s)", strings.Join(names, ","))
}
