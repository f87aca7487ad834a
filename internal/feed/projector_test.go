package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func squares(names ...string) []Post {
	posts := make([]Post, 0, len(names))
	for i, name := range names {
		posts = append(posts, Post{ID: name, Width: 100, Height: 100, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	return posts
}

func columnIDs(columns [][]PresentationPost) [][]string {
	out := make([][]string, len(columns))
	for i, column := range columns {
		out[i] = []string{}
		for _, post := range column {
			out[i] = append(out[i], post.ID)
		}
	}
	return out
}

func presentedIDs(posts []PresentationPost) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestBucketShortestColumnLowestIndexOnTies(t *testing.T) {
	projection := Project(squares("A", "B", "C", "D", "E"), nil, nil, Options{Columns: 3})

	want := [][]string{{"A", "D"}, {"B", "E"}, {"C"}}
	if diff := cmp.Diff(want, columnIDs(projection.Columns)); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestBucketFollowsAccumulatedHeight(t *testing.T) {
	posts := []Post{
		{ID: "tall", Width: 100, Height: 300},
		{ID: "a", Width: 100, Height: 100},
		{ID: "b", Width: 100, Height: 100},
		{ID: "c", Width: 100, Height: 100},
	}
	projection := Project(posts, nil, nil, Options{Columns: 2})

	want := [][]string{{"tall"}, {"a", "b", "c"}}
	require.Equal(t, want, columnIDs(projection.Columns))
}

func TestBucketWithMoreColumnsThanPosts(t *testing.T) {
	projection := Project(squares("A"), nil, nil, Options{Columns: 3})
	require.Equal(t, [][]string{{"A"}, {}, {}}, columnIDs(projection.Columns))
}

func TestProjectNewestFirstIsStable(t *testing.T) {
	t1 := base
	t2 := base.Add(time.Hour)
	t3 := base.Add(2 * time.Hour)
	raw := []Post{
		{ID: "c", CreatedAt: t3},
		{ID: "a", CreatedAt: t1},
		{ID: "b", CreatedAt: t2},
		{ID: "b2", CreatedAt: t2},
		{ID: "a2", CreatedAt: t1},
	}

	projection := Project(raw, nil, nil, Options{Order: OrderNewest})

	require.Equal(t, []string{"c", "b", "b2", "a", "a2"}, presentedIDs(projection.Posts))
	require.Nil(t, projection.Columns)
}

func TestProjectArrivalOrderKeepsSourceOrder(t *testing.T) {
	raw := []Post{{ID: "a", CreatedAt: base}, {ID: "b", CreatedAt: base.Add(time.Hour)}}
	projection := Project(raw, nil, nil, Options{})
	require.Equal(t, []string{"a", "b"}, presentedIDs(projection.Posts))
}

func TestProjectPipeline(t *testing.T) {
	fetcher := newFakeIdentities()
	identities := NewIdentityResolver(fetcher, nil)
	identities.Resolve(context.Background(), []string{"u1", "u2"})

	posts := samplePosts()
	ledger := NewLedger()
	ledger.RecordDeletion("p2")
	ledger.RecordEdit("p1", CaptionPatch("edited"))

	projection := Project(posts, ledger, identities, Options{Order: OrderNewest})

	require.Equal(t, []string{"p3", "p1"}, presentedIDs(projection.Posts))
	p3 := projection.Posts[0]
	require.Equal(t, "Ada", p3.Author.DisplayName)
	require.Len(t, p3.Comments, 1)
	require.Equal(t, "cute", p3.Comments[0].Text)
	require.Equal(t, PlaceholderIdentity("u3"), p3.Comments[0].Author, "unresolved comment author uses placeholder")

	p1 := projection.Posts[1]
	require.Equal(t, "edited", p1.Caption)
	require.Equal(t, "Ada", p1.Author.DisplayName)
}

func TestEstimateAspect(t *testing.T) {
	require.InDelta(t, 1.5, EstimateAspect(Post{ID: "x", Width: 200, Height: 300}), 1e-9)

	for i := 0; i < 100; i++ {
		post := Post{ID: fmt.Sprintf("post-%d", i)}
		got := EstimateAspect(post)
		require.GreaterOrEqual(t, got, MinEstimatedAspect)
		require.Less(t, got, MaxEstimatedAspect)
		require.Equal(t, got, EstimateAspect(post))
	}
}

func TestProjectorMemoisesOnInputs(t *testing.T) {
	fetcher := newFakeIdentities()
	identities := NewIdentityResolver(fetcher, nil)
	ledger := NewLedger()
	projector := NewProjector(ledger, identities, Options{Order: OrderNewest})
	posts := samplePosts()

	first := projector.Project(posts, 1)
	second := projector.Project(posts, 1)
	require.Equal(t, 1, projector.Runs())
	require.Equal(t, first, second)

	ledger.RecordDeletion("p1")
	third := projector.Project(posts, 1)
	require.Equal(t, 2, projector.Runs())
	require.Len(t, third.Posts, 2)

	identities.Resolve(context.Background(), []string{"u1"})
	projector.Project(posts, 1)
	require.Equal(t, 3, projector.Runs())

	projector.Project(posts[:1], 2)
	require.Equal(t, 4, projector.Runs())

	projector.SetOptions(Options{Columns: 2})
	grid := projector.Project(posts[:1], 2)
	require.Equal(t, 5, projector.Runs())
	require.Len(t, grid.Columns, 2)
}
