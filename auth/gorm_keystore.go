package auth

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// GormKeyStore backs the KeyStore with a relational table, used whenever a
// database is configured.
type GormKeyStore struct {
	db *gorm.DB
}

// NewGormKeyStore wraps db (already migrated for the APIKey model).
func NewGormKeyStore(db *gorm.DB) *GormKeyStore {
	return &GormKeyStore{db: db}
}

func (s *GormKeyStore) Lookup(ctx context.Context, hash string) (APIKey, bool, error) {
	var key APIKey
	err := s.db.WithContext(ctx).Where("key_hash = ?", hash).First(&key).Error
	if err == gorm.ErrRecordNotFound {
		return APIKey{}, false, nil
	}
	if err != nil {
		return APIKey{}, false, err
	}
	return key, true, nil
}

func (s *GormKeyStore) Touch(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&APIKey{}).Where("id = ?", id).Update("last_used_at", now).Error
}
