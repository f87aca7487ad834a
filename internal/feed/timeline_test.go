package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type pagedSource struct {
	mu      sync.Mutex
	pages   [][]Post
	err     error
	queries []Query
}

func (s *pagedSource) ListPosts(_ context.Context, q Query) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.err != nil {
		return Page{}, s.err
	}
	if q.Page >= len(s.pages) {
		return Page{}, nil
	}
	return Page{Items: s.pages[q.Page], HasMore: q.Page < len(s.pages)-1}, nil
}

func postN(i int, author string) Post {
	return Post{ID: fmt.Sprintf("p%d", i), AuthorID: author, Caption: fmt.Sprintf("caption %d", i), CreatedAt: base.Add(time.Duration(i) * time.Minute)}
}

func TestTimelineLoadsPagesAndDedupes(t *testing.T) {
	source := &pagedSource{pages: [][]Post{
		{postN(3, "u1"), postN(2, "u2")},
		{postN(2, "u2"), postN(1, "u3")},
	}}
	fetcher := newFakeIdentities()
	timeline := NewTimeline(source, NewIdentityResolver(fetcher, nil), Query{AuthorID: "u1", Limit: 2}, Options{Order: OrderNewest}, nil)
	ctx := context.Background()

	require.True(t, timeline.HasMore())
	require.NoError(t, timeline.LoadMore(ctx))
	require.True(t, timeline.HasMore())
	require.NoError(t, timeline.LoadMore(ctx))
	require.False(t, timeline.HasMore())
	require.NoError(t, timeline.LoadMore(ctx))

	require.Len(t, source.queries, 2, "no fetch after the last page")
	require.Equal(t, 0, source.queries[0].Page)
	require.Equal(t, 1, source.queries[1].Page)
	require.Equal(t, "u1", source.queries[1].AuthorID)

	require.Equal(t, []string{"p3", "p2", "p1"}, ids(timeline.Posts()))
	require.Equal(t, uint64(2), timeline.Generation())
	require.Len(t, fetcher.batches, 2, "one identity batch per page")
	require.Equal(t, []string{"u3"}, fetcher.batches[1])

	projection := timeline.Projection()
	require.Equal(t, []string{"p3", "p2", "p1"}, presentedIDs(projection.Posts))
	require.Equal(t, "Linus", projection.Posts[2].Author.DisplayName)
}

func TestTimelineLoadFailureKeepsState(t *testing.T) {
	source := &pagedSource{pages: [][]Post{{postN(1, "u1")}}}
	timeline := NewTimeline(source, nil, Query{}, Options{}, nil)
	ctx := context.Background()
	require.NoError(t, timeline.Reload(ctx))

	source.err = errors.New("503")
	err := timeline.Reload(ctx)
	require.ErrorContains(t, err, "503")
	require.Equal(t, []string{"p1"}, ids(timeline.Posts()))
}

func TestTimelineEditRollsBackToPreviousEdit(t *testing.T) {
	source := &pagedSource{pages: [][]Post{{postN(1, "u1")}}}
	timeline := NewTimeline(source, nil, Query{}, Options{}, nil)
	ctx := context.Background()
	require.NoError(t, timeline.LoadMore(ctx))

	require.NoError(t, timeline.Edit(ctx, "p1", CaptionPatch("first"), func(context.Context) error { return nil }))

	failure := errors.New("forbidden")
	err := timeline.Edit(ctx, "p1", CaptionPatch("second"), func(context.Context) error { return failure })
	require.ErrorIs(t, err, failure)

	post, ok := timeline.Find("p1")
	require.True(t, ok)
	require.Equal(t, "first", post.Caption)
}

func TestTimelineFailedEditKeepsOverlappingLike(t *testing.T) {
	source := &pagedSource{pages: [][]Post{{postN(1, "u1")}}}
	timeline := NewTimeline(source, nil, Query{}, Options{}, nil)
	ctx := context.Background()
	require.NoError(t, timeline.LoadMore(ctx))

	pending := make(chan struct{})
	release := make(chan struct{})
	failure := errors.New("conflict")
	done := make(chan error, 1)
	go func() {
		done <- timeline.Edit(ctx, "p1", CaptionPatch("draft"), func(context.Context) error {
			close(pending)
			<-release
			return failure
		})
	}()
	<-pending

	require.NoError(t, timeline.Like(ctx, "p1", "u9", true, func(context.Context) error { return nil }))
	post, ok := timeline.Find("p1")
	require.True(t, ok)
	require.Equal(t, "draft", post.Caption)

	close(release)
	require.ErrorIs(t, <-done, failure)

	post, ok = timeline.Find("p1")
	require.True(t, ok)
	require.Equal(t, "caption 1", post.Caption)
	require.Equal(t, []string{"u9"}, post.LikerIDs)
}

func TestTimelineDeleteRollsBack(t *testing.T) {
	source := &pagedSource{pages: [][]Post{{postN(1, "u1"), postN(2, "u1")}}}
	timeline := NewTimeline(source, nil, Query{}, Options{}, nil)
	ctx := context.Background()
	require.NoError(t, timeline.LoadMore(ctx))

	err := timeline.Delete(ctx, "p1", func(context.Context) error { return errors.New("timeout") })
	require.Error(t, err)
	require.Len(t, timeline.Projection().Posts, 2)

	require.NoError(t, timeline.Delete(ctx, "p1", func(context.Context) error { return nil }))
	require.Equal(t, []string{"p2"}, presentedIDs(timeline.Projection().Posts))
	_, ok := timeline.Find("p1")
	require.False(t, ok)
}

func TestTimelineLikeAndComment(t *testing.T) {
	source := &pagedSource{pages: [][]Post{{postN(1, "u1")}}}
	fetcher := newFakeIdentities()
	timeline := NewTimeline(source, NewIdentityResolver(fetcher, nil), Query{}, Options{}, nil)
	ctx := context.Background()
	require.NoError(t, timeline.LoadMore(ctx))

	require.NoError(t, timeline.Like(ctx, "p1", "u2", true, nil))
	require.NoError(t, timeline.Like(ctx, "p1", "u2", true, nil))
	require.NoError(t, timeline.Comment(ctx, "p1", Comment{AuthorID: "u3", Text: "wow", CreatedAt: base}, nil))

	projection := timeline.Projection()
	post := projection.Posts[0]
	require.Equal(t, []string{"u2"}, post.LikerIDs)
	require.Len(t, post.Comments, 1)
	require.Equal(t, "Linus", post.Comments[0].Author.DisplayName)

	require.ErrorIs(t, timeline.Like(ctx, "missing", "u2", true, nil), ErrUnknownPost)
}

func TestTimelineReloadClearsLedger(t *testing.T) {
	source := &pagedSource{pages: [][]Post{{postN(1, "u1"), postN(2, "u1")}}}
	timeline := NewTimeline(source, nil, Query{}, Options{}, nil)
	ctx := context.Background()
	require.NoError(t, timeline.LoadMore(ctx))
	require.NoError(t, timeline.Delete(ctx, "p1", nil))
	require.Len(t, timeline.Projection().Posts, 1)

	require.NoError(t, timeline.Reload(ctx))
	require.Len(t, timeline.Projection().Posts, 2)
	require.False(t, timeline.Ledger().IsDeleted("p1"))
}

func TestTimelineDrivesSelection(t *testing.T) {
	source := &pagedSource{pages: [][]Post{{postN(1, "u1")}, {postN(2, "u2")}}}
	timeline := NewTimeline(source, nil, Query{}, Options{}, nil)
	history := NewMemoryHistory("postId=p2")
	ctx := context.Background()
	require.NoError(t, timeline.LoadMore(ctx))

	c := NewSelectionController(SelectionConfig{Location: history, Known: timeline.Find, Ledger: timeline.Ledger()})
	defer c.Stop()
	require.False(t, c.State().Open())

	require.NoError(t, timeline.LoadMore(ctx))
	c.Sync()
	require.Equal(t, "p2", c.State().ID)
	require.Equal(t, DetailReady, c.State().Status)
}
