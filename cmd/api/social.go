package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"picwall/api/internal/client"
	"picwall/api/internal/feed"
)

var (
	authEmail    string
	authPassword string
	unlike       bool
)

var likeCmd = &cobra.Command{
	Use:   "like <id>",
	Short: "Like or unlike a post, optimistically",
	Args:  cobra.ExactArgs(1),
	RunE:  runLike,
}

var commentCmd = &cobra.Command{
	Use:   "comment <id> <text>",
	Short: "Comment on a post, optimistically",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runComment,
}

func init() {
	for _, cmd := range []*cobra.Command{likeCmd, commentCmd} {
		cmd.Flags().StringVar(&apiURL, "api", "http://localhost:8787", "Picwall API base URL")
		cmd.Flags().StringVar(&authEmail, "email", "", "Account email")
		cmd.Flags().StringVar(&authPassword, "password", "", "Account password (default $PICWALL_PASSWORD)")
	}
	likeCmd.Flags().BoolVar(&unlike, "unlike", false, "Remove the like instead")
}

func runLike(cmd *cobra.Command, args []string) error {
	id := args[0]
	api, timeline, userID, err := signedInTimeline(cmd.Context(), id)
	if err != nil {
		return err
	}
	err = timeline.Like(cmd.Context(), id, userID, !unlike, func(ctx context.Context) error {
		if unlike {
			_, err := api.Unlike(ctx, id)
			return err
		}
		_, err := api.Like(ctx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("like %s: %w", id, err)
	}
	return printProjected(cmd, timeline, id)
}

func runComment(cmd *cobra.Command, args []string) error {
	id, text := args[0], strings.TrimSpace(strings.Join(args[1:], " "))
	if text == "" {
		return errors.New("comment text is required")
	}
	api, timeline, userID, err := signedInTimeline(cmd.Context(), id)
	if err != nil {
		return err
	}
	comment := feed.Comment{AuthorID: userID, Text: text, CreatedAt: time.Now().UTC()}
	err = timeline.Comment(cmd.Context(), id, comment, func(ctx context.Context) error {
		_, err := api.AddComment(ctx, id, text)
		return err
	})
	if err != nil {
		return fmt.Errorf("comment on %s: %w", id, err)
	}
	return printProjected(cmd, timeline, id)
}

// signedInTimeline signs in and pages the feed until id is loaded, so the
// optimistic helpers have a base post to patch.
func signedInTimeline(ctx context.Context, id string) (*client.Client, *feed.Timeline, string, error) {
	password := authPassword
	if password == "" {
		password = os.Getenv("PICWALL_PASSWORD")
	}
	if authEmail == "" || password == "" {
		return nil, nil, "", errors.New("--email and --password (or PICWALL_PASSWORD) are required")
	}

	api := client.New(apiURL, 10*time.Second)
	session, err := api.SignIn(ctx, authEmail, password)
	if err != nil {
		return nil, nil, "", fmt.Errorf("sign in: %w", err)
	}

	timeline := newTimeline(api)
	for {
		if _, ok := timeline.Find(id); ok {
			return api, timeline, session.User.ID, nil
		}
		if !timeline.HasMore() {
			return nil, nil, "", fmt.Errorf("post %s: %w", id, feed.ErrUnknownPost)
		}
		if err := timeline.LoadMore(ctx); err != nil {
			return nil, nil, "", err
		}
	}
}

func printProjected(cmd *cobra.Command, timeline *feed.Timeline, id string) error {
	for _, post := range timeline.Projection().Posts {
		if post.ID == id {
			printPost(cmd.OutOrStdout(), post, "")
			return nil
		}
	}
	logger.Warn("post missing from projection", zap.String("post_id", id))
	return nil
}
