package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/user/switchboard/internal/types"
)

const defaultLanguage = "en"

// ProfileStore persists end-user records: language preference, blocked
// flag, and interaction timestamps.
type ProfileStore struct {
	db *gorm.DB
}

func NewProfileStore(db *gorm.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Upsert inserts the profile or updates its mutable fields, preserving the
// original FirstSeen timestamp.
func (s *ProfileStore) Upsert(ctx context.Context, p *types.UserProfile) error {
	now := time.Now()
	if p.LastInteraction.IsZero() {
		p.LastInteraction = now
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing types.UserProfile
		err := tx.First(&existing, "user_id = ?", p.UserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if p.FirstSeen.IsZero() {
				p.FirstSeen = now
			}
			if p.Language == "" {
				p.Language = defaultLanguage
			}
			if err := tx.Create(p).Error; err != nil {
				return fmt.Errorf("create profile %d: %w", p.UserID, err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("load profile %d: %w", p.UserID, err)
		}
		updates := map[string]any{
			"username":         p.Username,
			"blocked":          p.Blocked,
			"last_interaction": p.LastInteraction,
		}
		if p.Language != "" {
			updates["language"] = p.Language
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("update profile %d: %w", p.UserID, err)
		}
		return nil
	})
}

func (s *ProfileStore) Get(ctx context.Context, id types.UserID) (*types.UserProfile, error) {
	var p types.UserProfile
	if err := s.db.WithContext(ctx).First(&p, "user_id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("profile %d: %w", id, err)
	}
	return &p, nil
}

// Language returns the user's stored language preference, defaulting to
// English for unknown users.
func (s *ProfileStore) Language(ctx context.Context, id types.UserID) string {
	p, err := s.Get(ctx, id)
	if err != nil || p.Language == "" {
		return defaultLanguage
	}
	return p.Language
}

func (s *ProfileStore) SetBlocked(ctx context.Context, id types.UserID, blocked bool) error {
	res := s.db.WithContext(ctx).
		Model(&types.UserProfile{}).
		Where("user_id = ?", id).
		Update("blocked", blocked)
	if res.Error != nil {
		return fmt.Errorf("set blocked %d: %w", id, res.Error)
	}
	return nil
}

func (s *ProfileStore) All(ctx context.Context) ([]*types.UserProfile, error) {
	var out []*types.UserProfile
	if err := s.db.WithContext(ctx).Order("first_seen").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

// AllIDs returns every non-blocked user id.
func (s *ProfileStore) AllIDs(ctx context.Context) ([]types.UserID, error) {
	var ids []types.UserID
	err := s.db.WithContext(ctx).
		Model(&types.UserProfile{}).
		Where("blocked = ?", false).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	return ids, nil
}

// IDsByLanguage returns every non-blocked user id with the given language.
func (s *ProfileStore) IDsByLanguage(ctx context.Context, lang string) ([]types.UserID, error) {
	var ids []types.UserID
	err := s.db.WithContext(ctx).
		Model(&types.UserProfile{}).
		Where("blocked = ? AND language = ?", false, lang).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list user ids by language: %w", err)
	}
	return ids, nil
}
