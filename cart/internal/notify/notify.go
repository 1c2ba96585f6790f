package notify

import (
	"errors"
	"sync"
	"time"

	inErrors "github.com/Alturino/cartsync/internal/errors"
)

// Notification tells the user that a cart change was kept locally but could
// not be saved remotely.
type Notification struct {
	At        time.Time `json:"at"`
	Operation string    `json:"operation"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	ProductID int64     `json:"productId,omitempty"`
	Retryable bool      `json:"retryable"`
}

func FromFailure(err error, productID int64, now time.Time) Notification {
	n := Notification{
		At:        now,
		Kind:      inErrors.KindUnknown.String(),
		ProductID: productID,
	}
	var failure *inErrors.Failure
	if errors.As(err, &failure) {
		n.Operation = failure.Op
		n.Kind = failure.Kind.String()
		n.Retryable = failure.Kind.Retryable()
	}
	switch inErrors.KindOf(err) {
	case inErrors.KindTransient:
		n.Message = "your cart change is saved on this device but could not reach the server, try again later"
	case inErrors.KindUnauthenticated:
		n.Message = "your cart change is saved on this device only, sign in again to save it to your account"
	case inErrors.KindSchemaMissing:
		n.Message = "your cart change is saved on this device only, saving carts is currently unavailable"
	default:
		n.Message = "your cart change is saved on this device but could not be saved to your account"
	}
	return n
}

// Notifier is a bounded queue of notifications. Publish never blocks; when
// the queue is full the notification is dropped.
type Notifier struct {
	ch      chan Notification
	mu      sync.Mutex
	dropped uint64
}

func NewNotifier(size int) *Notifier {
	if size <= 0 {
		size = 1
	}
	return &Notifier{ch: make(chan Notification, size)}
}

func (n *Notifier) Publish(notification Notification) bool {
	select {
	case n.ch <- notification:
		return true
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		return false
	}
}

func (n *Notifier) C() <-chan Notification {
	return n.ch
}

// Drain returns every queued notification without waiting.
func (n *Notifier) Drain() []Notification {
	notifications := []Notification{}
	for {
		select {
		case notification := <-n.ch:
			notifications = append(notifications, notification)
		default:
			return notifications
		}
	}
}

func (n *Notifier) Dropped() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}
