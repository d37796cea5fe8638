package state

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/user/switchboard/internal/types"
)

// PostStore is the persisted queue of scheduled broadcast posts.
type PostStore struct {
	db *gorm.DB
}

func NewPostStore(db *gorm.DB) *PostStore {
	return &PostStore{db: db}
}

func (s *PostStore) Add(ctx context.Context, p *types.ScheduledPost) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("add scheduled post: %w", err)
	}
	return nil
}

func (s *PostStore) List(ctx context.Context) ([]*types.ScheduledPost, error) {
	var out []*types.ScheduledPost
	if err := s.db.WithContext(ctx).Order("send_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list scheduled posts: %w", err)
	}
	return out, nil
}

func (s *PostStore) Remove(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).Delete(&types.ScheduledPost{}, id).Error; err != nil {
		return fmt.Errorf("remove scheduled post %d: %w", id, err)
	}
	return nil
}

// ClaimDue removes and returns every post whose send time has arrived.
// Select and delete run in one transaction so two concurrent dispatch
// ticks cannot both claim the same post.
func (s *PostStore) ClaimDue(ctx context.Context, now time.Time) ([]*types.ScheduledPost, error) {
	var due []*types.ScheduledPost
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("send_at <= ?", now).Order("send_at").Find(&due).Error; err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		return tx.Where("send_at <= ?", now).Delete(&types.ScheduledPost{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim due posts: %w", err)
	}
	return due, nil
}
