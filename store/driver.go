package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Type() string
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Activity model related methods.
	CreateActivity(ctx context.Context, create *ActivityRecord) (*ActivityRecord, error)
	ListActivities(ctx context.Context, find *FindActivity) ([]*ActivityRecord, error)
	ListActiveUserIDs(ctx context.Context, sinceTs int64) ([]int32, error)

	// Pattern model related methods.
	UpsertPattern(ctx context.Context, upsert *Pattern) (*Pattern, error)
	ListPatterns(ctx context.Context, find *FindPattern) ([]*Pattern, error)
	UpdatePatternResponse(ctx context.Context, update *UpdatePatternResponse) (*Pattern, error)
	ClaimAutomationOffer(ctx context.Context, id int64, offeredTs int64) (bool, error)
	ClaimForgottenReminder(ctx context.Context, id int64, remindedTs, dayStartTs int64) (bool, error)
	DeletePattern(ctx context.Context, id int64, deletedTs int64) error
	RestorePattern(ctx context.Context, restore *Pattern) (*Pattern, error)

	// Notification model related methods.
	CreateNotification(ctx context.Context, create *Notification) (*Notification, error)
	ListNotifications(ctx context.Context, find *FindNotification) ([]*Notification, error)
}
