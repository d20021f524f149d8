// Package notify delivers account lifecycle notices to people and systems.
//
// Notifiers are best effort. The engine hands messages to a [Dispatcher],
// which delivers them off the request path and only logs failures, so a
// broken mail server or broker never fails a registration or a login.
package notify

import (
	"context"
	"errors"
	"time"
)

// Kind names the lifecycle event a message describes.
type Kind string

const (
	KindAccountRegistered Kind = "account.registered"
	KindAccountLocked     Kind = "account.locked"
)

// Message is a single notification.
type Message struct {
	Kind       Kind
	At         time.Time
	AccountID  string
	Email      string
	Name       string
	SourceAddr string

	// Lock details, set for KindAccountLocked.
	LockCount   int
	Permanent   bool
	LockedUntil *time.Time
}

// Notifier delivers a message. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Only forwards messages of the listed kinds to next.
func Only(next Notifier, kinds ...Kind) Notifier {
	allowed := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}
	return NotifierFunc(func(ctx context.Context, msg Message) error {
		if _, ok := allowed[msg.Kind]; !ok {
			return nil
		}
		return next.Notify(ctx, msg)
	})
}
