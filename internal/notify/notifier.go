// Package notify forwards selected committed events to chat channels.
// The Notifier is an events sink; operators pick the event types they want.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier sends every allowed event of a batch to all senders.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier forwards the listed event types. An empty list forwards all.
func NewNotifier(senders []Sender, eventTypes []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(eventTypes))
	for _, e := range eventTypes {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

func (n *Notifier) Name() string { return "notify" }

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Consume implements events.Sink.
func (n *Notifier) Consume(ctx context.Context, batch []domain.Event) error {
	if len(n.senders) == 0 {
		return nil
	}
	var errs []error
	for _, ev := range batch {
		if len(n.allowed) > 0 && !n.allowed[ev.Type] {
			continue
		}
		if err := n.dispatch(ctx, string(ev.Type), FormatEvent(ev)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var failed []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent", slog.String("sender", s.Name()), slog.String("title", title))
	}
	if len(failed) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

// FormatEvent renders ev as plain lines, amounts and attributes sorted by
// name.
func FormatEvent(ev domain.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "topic: %s\nactor: %s\nblock: %d", ev.Topic, ev.Actor.Hex(), ev.Block)
	for _, k := range sortedKeys(ev.Attrs) {
		fmt.Fprintf(&b, "\n%s: %s", k, ev.Attrs[k])
	}
	names := make([]string, 0, len(ev.Amounts))
	for k := range ev.Amounts {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(&b, "\n%s: %s", k, ev.Amounts[k].String())
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
