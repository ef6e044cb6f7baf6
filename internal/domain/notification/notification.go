// Package notification describes push notifications independently of the
// delivery channel.
package notification

import (
	"context"
	"strings"
)

// Level is the interruption level of a push. Values follow Bark's vocabulary.
type Level string

const (
	LevelActive        Level = "active"
	LevelTimeSensitive Level = "timeSensitive"
	LevelPassive       Level = "passive"
	LevelCritical      Level = "critical"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelActive, LevelTimeSensitive, LevelPassive, LevelCritical:
		return true
	}
	return false
}

// Notification is one message to push to every configured device.
type Notification struct {
	Title string
	Body  string
	Level Level
	Group string
	Sound string
	Icon  string
	URL   string
}

// Normalize fills defaults: an unknown or empty level becomes active.
func (n Notification) Normalize() Notification {
	if !n.Level.Valid() {
		n.Level = LevelActive
	}
	n.Title = strings.TrimSpace(n.Title)
	return n
}

// Notifier delivers notifications. Send is fire-and-forget from the caller's
// point of view: implementations log and count their own failures and must
// never panic into the caller.
type Notifier interface {
	Send(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

// Send calls f.
func (f NotifierFunc) Send(ctx context.Context, n Notification) { f(ctx, n) }
