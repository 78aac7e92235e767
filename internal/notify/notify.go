package notify

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/logging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a non-blocking message for the user.
type Notification struct {
	ID      string            `json:"id"`
	Level   Level             `json:"level"`
	Topic   string            `json:"topic"`
	Message string            `json:"message"`
	Action  domain.NextAction `json:"action,omitempty"`
	Error   string            `json:"error,omitempty"`
	At      time.Time         `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Feed logs every notification and keeps the most recent ones for the UI to poll.
type Feed struct {
	mu    sync.RWMutex
	items []Notification
	limit int
}

func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 50
	}
	return &Feed{limit: limit}
}

func (f *Feed) Notify(ctx context.Context, n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}

	entry := logging.WithFields(ctx, logrus.Fields{"topic": n.Topic, "action": n.Action})
	if n.Error != "" {
		entry = entry.WithField("error", n.Error)
	}
	switch n.Level {
	case LevelError:
		entry.Error(n.Message)
	case LevelWarning:
		entry.Warn(n.Message)
	default:
		entry.Info(n.Message)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	if len(f.items) > f.limit {
		f.items = f.items[len(f.items)-f.limit:]
	}
}

// Recent returns notifications newest first.
func (f *Feed) Recent() []Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Notification, len(f.items))
	for i, n := range f.items {
		out[len(f.items)-1-i] = n
	}
	return out
}

// Error builds an error notification whose action follows the error taxonomy.
func Error(topic, message string, err error) Notification {
	n := Notification{Level: LevelError, Topic: topic, Message: message, Action: domain.NextActionFor(err)}
	if err != nil {
		n.Error = err.Error()
	}
	return n
}

// Discard drops notifications; used where no user is attached.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}
