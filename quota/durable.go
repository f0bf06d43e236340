package quota

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageCounter is the `usage_counters` row: one row per (user_id, day).
type UsageCounter struct {
	UserID       string    `gorm:"column:user_id;primaryKey"`
	Day          string    `gorm:"column:day;primaryKey"`
	RequestCount int       `gorm:"column:request_count"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (UsageCounter) TableName() string { return "usage_counters" }

// DurableCounter backs the daily counter with a relational store. The
// increment is an atomic upsert so concurrent callers for the same user
// observe distinct, strictly increasing counts.
type DurableCounter struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewDurableCounter wraps db (already migrated for the UsageCounter model).
func NewDurableCounter(db *gorm.DB, logger *zap.Logger) *DurableCounter {
	return &DurableCounter{db: db, logger: logger, now: time.Now}
}

// CheckAndIncrement upserts the row for today, incrementing request_count on
// conflict, and returns the row's new value as the authoritative count. On
// any database error the request is allowed (fail-open) and the error is
// logged rather than surfaced.
func (c *DurableCounter) CheckAndIncrement(ctx context.Context, userID string, limit int) (Decision, error) {
	now := c.now()
	resetAt := nextUTCMidnight(now)
	today := todayUTC(now)

	row := UsageCounter{UserID: userID, Day: today, RequestCount: 1, UpdatedAt: now.UTC()}

	// Single round trip: the upsert and the read of its resulting count must
	// happen atomically, or two concurrent callers can both increment and
	// then both read the same post-both-increments value instead of two
	// distinct, strictly increasing counts.
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{
			"request_count": gorm.Expr("usage_counters.request_count + 1"),
			"updated_at":    now.UTC(),
		}),
	}, clause.Returning{Columns: []clause.Column{{Name: "request_count"}}}).Create(&row).Error
	if err != nil {
		c.logger.Error("quota durable backend error, failing open", zap.Error(err), zap.String("user_id", userID))
		return Decision{Allowed: true, Remaining: limit, ResetAt: resetAt}, nil
	}

	return Decision{
		Allowed:   row.RequestCount <= limit,
		Remaining: remaining(limit, row.RequestCount),
		ResetAt:   resetAt,
	}, nil
}

func (c *DurableCounter) Status(ctx context.Context, userID string, limit int) (Status, error) {
	now := c.now()
	today := todayUTC(now)

	var current UsageCounter
	err := c.db.WithContext(ctx).Where("user_id = ? AND day = ?", userID, today).First(&current).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return Status{Current: 0, Remaining: limit, ResetAt: nextUTCMidnight(now)}, nil
		}
		return Status{}, err
	}

	return Status{
		Current:   current.RequestCount,
		Remaining: remaining(limit, current.RequestCount),
		ResetAt:   nextUTCMidnight(now),
	}, nil
}

func (c *DurableCounter) Reset(ctx context.Context, userID string) error {
	today := todayUTC(c.now())
	return c.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, today).
		Delete(&UsageCounter{}).Error
}
