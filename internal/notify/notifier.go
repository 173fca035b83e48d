// Package notify provides a multi-channel notification system. Notifications
// are dispatched to all registered senders (Telegram, Discord, etc.) and can be
// filtered by event type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// Message is a rendered notification as a sender sees it. ReplyTo is the
// sender's own message id of the notification being followed up, if any.
type Message struct {
	Title   string
	Body    string
	ReplyTo string
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers msg and returns the channel's message id, or "" when the
	// channel does not report one.
	Send(ctx context.Context, msg Message) (string, error)
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// maxThreads bounds how many correlation ids the Notifier remembers for
// threading follow-ups.
const maxThreads = 4096

// Notifier dispatches notifications to one or more Senders and implements
// domain.NotificationSink. Every delivery gets a correlation id; follow-ups
// carrying that id in ReplyTo are threaded under the original message on
// senders that support replies.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger

	mu      sync.Mutex
	threads map[string]map[string]string // correlation id -> sender -> message id
	order   []string
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice are forwarded. If events is
// empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
		threads: make(map[string]map[string]string),
	}
}

// Deliver sends n to every sender and returns its correlation id. Filtered
// events return an empty id and no error.
func (n *Notifier) Deliver(ctx context.Context, note domain.Notification) (string, error) {
	if len(n.events) > 0 && !n.events[note.Event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", note.Event),
		)
		return "", nil
	}

	id := uuid.NewString()
	msg := Message{Title: note.Title, Body: render(note)}
	parents := n.thread(note.ReplyTo)

	sent, err := n.dispatch(ctx, msg, parents)
	n.remember(id, sent)
	return id, err
}

// Notify sends a plain title and message under event.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	_, err := n.Deliver(ctx, domain.Notification{Event: event, Title: title, Message: message})
	return err
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, msg Message, parents map[string]string) (map[string]string, error) {
	sent := make(map[string]string, len(n.senders))
	if len(n.senders) == 0 {
		return sent, nil
	}

	var errs []string
	for _, s := range n.senders {
		m := msg
		m.ReplyTo = parents[s.Name()]
		msgID, err := s.Send(ctx, m)
		if err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
		if msgID != "" {
			sent[s.Name()] = msgID
		}
	}

	if len(errs) > 0 {
		return sent, fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return sent, nil
}

func (n *Notifier) thread(id string) map[string]string {
	if id == "" {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.threads[id]
}

func (n *Notifier) remember(id string, sent map[string]string) {
	if len(sent) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.threads[id] = sent
	n.order = append(n.order, id)
	if len(n.order) > maxThreads {
		delete(n.threads, n.order[0])
		n.order = n.order[1:]
	}
}

// render formats the message body followed by the fields in key order.
func render(note domain.Notification) string {
	var b strings.Builder
	b.WriteString(note.Message)
	if len(note.Fields) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(note.Fields))
	for k := range note.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(note.Fields[k])
	}
	return b.String()
}

var _ domain.NotificationSink = (*Notifier)(nil)
