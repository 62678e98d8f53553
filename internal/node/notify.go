package node

import (
	"log/slog"
	"sync"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// Notifier fans user-visible notifications out to subscribers and keeps a
// bounded backlog for late ones.
//
// Delivery to a subscriber never blocks the sender: a subscriber whose
// buffer is full misses the notification.
type Notifier struct {
	log     *slog.Logger
	backlog int

	mu     sync.Mutex
	seq    int64
	recent []ir.Notification
	subs   map[int]chan ir.Notification
	nextID int
}

func newNotifier(backlog int, log *slog.Logger) *Notifier {
	return &Notifier{log: log, backlog: backlog, subs: make(map[int]chan ir.Notification)}
}

// Notify stamps and publishes a notification.
func (n *Notifier) Notify(level ir.NotificationLevel, txID, instanceID, msg string) ir.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	note := ir.Notification{
		Seq:           n.seq,
		Level:         level,
		TransactionID: txID,
		InstanceID:    instanceID,
		Message:       msg,
	}
	n.recent = append(n.recent, note)
	if over := len(n.recent) - n.backlog; over > 0 {
		n.recent = append(n.recent[:0], n.recent[over:]...)
	}

	switch level {
	case ir.LevelInfo:
		n.log.Info(msg, "transaction", txID, "instance", instanceID)
	default:
		n.log.Error(msg, "level", level, "transaction", txID, "instance", instanceID)
	}

	for id, ch := range n.subs {
		select {
		case ch <- note:
		default:
			n.log.Debug("notification dropped for slow subscriber", "subscriber", id, "seq", note.Seq)
		}
	}
	return note
}

// Subscribe returns a channel receiving every later notification and a
// function that ends the subscription and closes the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan ir.Notification, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	ch := make(chan ir.Notification, buffer)
	n.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
			close(ch)
		})
	}
}

// Recent returns the retained notifications, oldest first.
func (n *Notifier) Recent() []ir.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ir.Notification(nil), n.recent...)
}
