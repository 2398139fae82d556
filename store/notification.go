package store

import "context"

// NotificationKind is the kind of proactive notification.
type NotificationKind string

const (
	NotificationKindPatternDetected   NotificationKind = "pattern_detected"
	NotificationKindForgottenActivity NotificationKind = "forgotten_activity"
)

// Notification is a proactive message addressed to a user.
type Notification struct {
	ID        int64
	UserID    int32
	Kind      NotificationKind
	Title     string
	Body      string
	Payload   map[string]any
	Priority  PatternPriority
	CreatedTs int64
}

// FindNotification is the find condition for notifications.
type FindNotification struct {
	UserID *int32
	Kind   *NotificationKind
	Limit  *int
}

// CreateNotification persists a notification into the user's inbox.
func (s *Store) CreateNotification(ctx context.Context, create *Notification) (*Notification, error) {
	return s.driver.CreateNotification(ctx, create)
}

// ListNotifications lists notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, find *FindNotification) ([]*Notification, error) {
	return s.driver.ListNotifications(ctx, find)
}
