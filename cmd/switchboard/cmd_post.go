package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/switchboard/internal/state"
	"github.com/user/switchboard/internal/types"
)

func init() {
	rootCmd.AddCommand(postCmd)
	postCmd.AddCommand(postAddCmd, postListCmd, postRemoveCmd)

	postAddCmd.Flags().String("text", "", "post text (required)")
	postAddCmd.Flags().String("image-url", "", "image URL to attach")
	postAddCmd.Flags().String("button-label", "", "inline button label")
	postAddCmd.Flags().String("button-url", "", "inline button URL")
	postAddCmd.Flags().String("at", "", "send time, \"2006-01-02 15:04\" (default: now)")
	postAddCmd.Flags().String("audience", types.AudienceAll, "audience: all, by_lang, or ids")
	postAddCmd.Flags().String("lang", "", "audience language (for by_lang)")
	postAddCmd.Flags().String("ids", "", "comma-separated user ids (for ids)")
	_ = postAddCmd.MarkFlagRequired("text")
}

func postStore() *state.PostStore {
	cfg := loadConfig()
	db, err := state.Open(filepath.Join(cfg.DataDir, "switchboard.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	return state.NewPostStore(db)
}

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Manage scheduled broadcast posts",
}

var postAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue a broadcast post",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		imageURL, _ := cmd.Flags().GetString("image-url")
		buttonLabel, _ := cmd.Flags().GetString("button-label")
		buttonURL, _ := cmd.Flags().GetString("button-url")
		at, _ := cmd.Flags().GetString("at")
		audience, _ := cmd.Flags().GetString("audience")
		lang, _ := cmd.Flags().GetString("lang")
		ids, _ := cmd.Flags().GetString("ids")

		sendAt := time.Now()
		if at != "" {
			parsed, err := time.ParseInLocation("2006-01-02 15:04", at, time.Local)
			if err != nil {
				return fmt.Errorf("parse send time: %w", err)
			}
			sendAt = parsed
		}
		switch audience {
		case types.AudienceAll:
		case types.AudienceByLanguage:
			if lang == "" {
				return fmt.Errorf("--lang is required for audience %q", audience)
			}
		case types.AudienceExplicit:
			if ids == "" {
				return fmt.Errorf("--ids is required for audience %q", audience)
			}
		default:
			return fmt.Errorf("unknown audience %q", audience)
		}

		post := &types.ScheduledPost{
			Text:         text,
			ImageURL:     imageURL,
			ButtonLabel:  buttonLabel,
			ButtonURL:    buttonURL,
			SendAt:       sendAt,
			Audience:     audience,
			AudienceLang: lang,
			AudienceIDs:  ids,
		}
		if err := postStore().Add(context.Background(), post); err != nil {
			return fmt.Errorf("add post: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Post %d queued for %s.\n", post.ID, sendAt.Format(time.DateTime))
		return nil
	},
}

var postListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued posts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		posts, err := postStore().List(context.Background())
		if err != nil {
			return fmt.Errorf("list posts: %w", err)
		}
		if len(posts) == 0 {
			fmt.Println("No posts queued.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSEND AT\tAUDIENCE\tTEXT")
		for _, p := range posts {
			text := p.Text
			if len(text) > 40 {
				text = text[:40] + "..."
			}
			audience := p.Audience
			if p.Audience == types.AudienceByLanguage {
				audience = fmt.Sprintf("%s (%s)", p.Audience, p.AudienceLang)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.SendAt.Format(time.DateTime), audience, text)
		}
		return w.Flush()
	},
}

var postRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a queued post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("parse post id: %w", err)
		}
		if err := postStore().Remove(context.Background(), uint(id)); err != nil {
			return fmt.Errorf("remove post: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Post %d removed.\n", id)
		return nil
	},
}
