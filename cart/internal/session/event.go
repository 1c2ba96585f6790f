package session

import (
	"context"

	"github.com/google/uuid"
)

type EventType int

const (
	EventInitial EventType = iota
	EventSignedIn
	EventSignedOut
)

func (t EventType) String() string {
	switch t {
	case EventInitial:
		return "initial"
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

// Event is an authentication state change. UserID is uuid.Nil when nobody
// is signed in.
type Event struct {
	Type   EventType
	UserID uuid.UUID
}

func Initial(userID uuid.UUID) Event {
	return Event{Type: EventInitial, UserID: userID}
}

func SignedIn(userID uuid.UUID) Event {
	return Event{Type: EventSignedIn, UserID: userID}
}

func SignedOut() Event {
	return Event{Type: EventSignedOut}
}

// Provider is the source of authentication state for one session.
type Provider interface {
	Events() <-chan Event
	CurrentUser() uuid.UUID
	SignOut(c context.Context) error
}
