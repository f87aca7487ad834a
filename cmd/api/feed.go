package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"picwall/api/internal/client"
	"picwall/api/internal/feed"
)

var (
	apiURL      string
	feedAuthor  string
	feedSort    string
	feedColumns int
	feedPages   int
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Fetch and print the feed through the API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		api := client.New(apiURL, 10*time.Second)
		timeline := newTimeline(api)
		for page := 0; page < max(feedPages, 1); page++ {
			if err := timeline.LoadMore(cmd.Context()); err != nil {
				return err
			}
			if !timeline.HasMore() {
				break
			}
		}

		projection := timeline.Projection()
		out := cmd.OutOrStdout()
		if feedColumns > 0 {
			for i, column := range projection.Columns {
				fmt.Fprintf(out, "column %d\n", i+1)
				for _, post := range column {
					printPost(out, post, "  ")
				}
			}
			return nil
		}
		for _, post := range projection.Posts {
			printPost(out, post, "")
		}
		if timeline.HasMore() {
			fmt.Fprintln(out, "(more available, use --pages)")
		}
		return nil
	},
}

var postCmd = &cobra.Command{
	Use:   "post <id>",
	Short: "Open a single post the way the overlay does",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		api := client.New(apiURL, 10*time.Second)
		timeline := newTimeline(api)
		if err := timeline.LoadMore(cmd.Context()); err != nil {
			logger.Warn("feed unavailable", zap.Error(err))
		}

		// The overlay can only open posts present in the list; fetch the
		// post directly when it is beyond the first page.
		extra := map[string]feed.Post{}
		if _, ok := timeline.Find(id); !ok {
			post, err := api.FetchPost(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("post %s: %w", id, err)
			}
			extra[id] = post
		}

		history := feed.NewMemoryHistory(feed.DefaultParam + "=" + id)
		selection := feed.NewSelectionController(feed.SelectionConfig{
			Location: history,
			Known: func(postID string) (feed.Post, bool) {
				if post, ok := timeline.Find(postID); ok {
					return post, true
				}
				post, ok := extra[postID]
				return post, ok
			},
			Fetcher:    api,
			Identities: timeline.Identities(),
			Ledger:     timeline.Ledger(),
			Logger:     logger.Named("selection"),
		})
		defer selection.Stop()
		selection.Wait()

		state := selection.State()
		out := cmd.OutOrStdout()
		if !state.Open() {
			return fmt.Errorf("post %s could not be opened", id)
		}
		fmt.Fprintf(out, "detail: %s\n", state.Status)
		printPost(out, state.Detail, "")
		for _, comment := range state.Detail.Comments {
			fmt.Fprintf(out, "  %s: %s\n", comment.Author.DisplayName, comment.Text)
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{feedCmd, postCmd} {
		cmd.Flags().StringVar(&apiURL, "api", "http://localhost:8787", "Picwall API base URL")
	}
	feedCmd.Flags().StringVar(&feedAuthor, "author", "", "Only show posts by this user id")
	feedCmd.Flags().StringVar(&feedSort, "sort", "latest", "Sort order: latest or popular")
	feedCmd.Flags().IntVar(&feedColumns, "columns", 0, "Bucket into this many masonry columns")
	feedCmd.Flags().IntVar(&feedPages, "pages", 1, "Number of pages to load")
}

func newTimeline(api *client.Client) *feed.Timeline {
	order := feed.OrderNewest
	if feedSort == "popular" {
		order = feed.OrderArrival
	}
	return feed.NewTimeline(
		api,
		feed.NewIdentityResolver(api, logger.Named("identities")),
		feed.Query{AuthorID: feedAuthor, Sort: feedSort},
		feed.Options{Order: order, Columns: feedColumns},
		logger.Named("timeline"),
	)
}

func printPost(out io.Writer, post feed.PresentationPost, indent string) {
	caption := strings.TrimSpace(post.Caption)
	if caption == "" {
		caption = "(no caption)"
	}
	fmt.Fprintf(out, "%s%s  %-20s %s  likes=%d comments=%d\n",
		indent, post.CreatedAt.Format(time.DateTime), post.Author.DisplayName, caption, len(post.LikerIDs), len(post.Comments))
}
