// Package broadcast polls the scheduled-post queue and delivers due posts
// to their resolved audience.
package broadcast

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/switchboard/internal/types"
)

// Dispatcher runs the polling job over the persisted post queue.
type Dispatcher struct {
	posts     types.PostStore
	profiles  types.ProfileStore
	transport types.Transport
	schedule  string
	cron      *cron.Cron
}

// New creates a Dispatcher polling on the given cron schedule
// (e.g. "@every 1m").
func New(posts types.PostStore, profiles types.ProfileStore, transport types.Transport, schedule string) *Dispatcher {
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Dispatcher{
		posts:     posts,
		profiles:  profiles,
		transport: transport,
		schedule:  schedule,
		cron:      cron.New(),
	}
}

// Start registers the polling job and starts the cron ticker.
func (d *Dispatcher) Start(ctx context.Context) error {
	_, err := d.cron.AddFunc(d.schedule, func() {
		d.Dispatch(ctx, time.Now())
	})
	if err != nil {
		return err
	}
	d.cron.Start()
	slog.Info("broadcast dispatcher started", "schedule", d.schedule)
	return nil
}

// Stop stops the cron ticker.
func (d *Dispatcher) Stop() {
	d.cron.Stop()
}

// Dispatch claims every due post and delivers it. Per-recipient failures
// are logged; one unreachable user never blocks the rest of the audience.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time) {
	due, err := d.posts.ClaimDue(ctx, now)
	if err != nil {
		slog.Error("claim due posts failed", "error", err)
		return
	}
	for _, post := range due {
		recipients := d.audience(ctx, post)
		slog.Info("dispatching scheduled post",
			"post_id", post.ID, "audience", post.Audience, "recipients", len(recipients))
		content := types.Content{Text: post.Text, ImageURL: post.ImageURL}
		if post.ButtonLabel != "" && post.ButtonURL != "" {
			content.Buttons = [][]types.Button{{
				{Label: post.ButtonLabel, URL: post.ButtonURL},
			}}
		}
		for _, userID := range recipients {
			if _, err := d.transport.Deliver(ctx, int64(userID), content); err != nil {
				slog.Error("scheduled post delivery failed",
					"post_id", post.ID, "user_id", int64(userID), "error", err)
			}
		}
	}
}

// audience resolves a post's recipient list: all users, users by language,
// or an explicit id list.
func (d *Dispatcher) audience(ctx context.Context, post *types.ScheduledPost) []types.UserID {
	switch post.Audience {
	case types.AudienceAll:
		ids, err := d.profiles.AllIDs(ctx)
		if err != nil {
			slog.Error("resolve audience failed", "post_id", post.ID, "error", err)
			return nil
		}
		return ids
	case types.AudienceByLanguage:
		ids, err := d.profiles.IDsByLanguage(ctx, post.AudienceLang)
		if err != nil {
			slog.Error("resolve audience failed", "post_id", post.ID, "error", err)
			return nil
		}
		return ids
	case types.AudienceExplicit:
		var ids []types.UserID
		for _, field := range strings.Split(post.AudienceIDs, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			id, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				slog.Warn("skipping bad audience id", "post_id", post.ID, "id", field)
				continue
			}
			ids = append(ids, types.UserID(id))
		}
		return ids
	default:
		slog.Warn("unknown audience kind", "post_id", post.ID, "audience", post.Audience)
		return nil
	}
}
