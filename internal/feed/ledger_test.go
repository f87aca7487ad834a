package feed

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func samplePosts() []Post {
	return []Post{
		{ID: "p1", AuthorID: "u1", Caption: "sunset", LikerIDs: []string{"u2"}, CreatedAt: base},
		{ID: "p2", AuthorID: "u2", Caption: "coffee", CreatedAt: base.Add(time.Minute)},
		{ID: "p3", AuthorID: "u1", Caption: "dog", Comments: []Comment{{AuthorID: "u3", Text: "cute", CreatedAt: base}}, CreatedAt: base.Add(2 * time.Minute)},
	}
}

func ids(posts []Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestLedgerApplyRemovesDeletedAndPatchesEdited(t *testing.T) {
	ledger := NewLedger()
	ledger.RecordEdit("p1", CaptionPatch("golden hour"))
	ledger.RecordDeletion("p2")

	out := ledger.Apply(samplePosts())

	require.Equal(t, []string{"p1", "p3"}, ids(out))
	require.Equal(t, "golden hour", out[0].Caption)
	require.Equal(t, "dog", out[1].Caption)
}

func TestLedgerApplyLeavesInputUntouched(t *testing.T) {
	posts := samplePosts()
	before := samplePosts()
	ledger := NewLedger()
	ledger.RecordEdit("p1", LikePatch(posts[0], "u9", true))
	ledger.RecordEdit("p3", CommentPatch(posts[2], Comment{AuthorID: "u1", Text: "thanks"}))
	ledger.RecordDeletion("p2")

	_ = ledger.Apply(posts)

	if diff := cmp.Diff(before, posts); diff != "" {
		t.Fatalf("input mutated (-want +got):\n%s", diff)
	}
}

func TestLedgerEditsMergeFieldByField(t *testing.T) {
	posts := samplePosts()
	ledger := NewLedger()
	ledger.RecordEdit("p1", CaptionPatch("first"))
	ledger.RecordEdit("p1", LikePatch(posts[0], "u3", true))
	ledger.RecordEdit("p1", CaptionPatch("second"))

	out, ok := ledger.ApplyOne(posts[0])
	require.True(t, ok)
	require.Equal(t, "second", out.Caption)
	require.Equal(t, []string{"u2", "u3"}, out.LikerIDs)
}

func TestLedgerDeletionWinsOverEdit(t *testing.T) {
	ledger := NewLedger()
	ledger.RecordEdit("p1", CaptionPatch("edited"))
	ledger.RecordDeletion("p1")

	_, ok := ledger.ApplyOne(samplePosts()[0])
	require.False(t, ok)

	ledger.RemoveDeletion("p1")
	out, ok := ledger.ApplyOne(samplePosts()[0])
	require.True(t, ok)
	require.Equal(t, "edited", out.Caption)
}

func TestLedgerApplyIsIdempotent(t *testing.T) {
	posts := samplePosts()
	ledger := NewLedger()
	ledger.RecordEdit("p1", LikePatch(posts[0], "u2", true))
	ledger.RecordEdit("p3", CommentPatch(posts[2], Comment{AuthorID: "u2", Text: "nice", CreatedAt: base}))
	ledger.RecordDeletion("p2")

	once := ledger.Apply(posts)
	twice := ledger.Apply(once)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("apply not idempotent (-once +twice):\n%s", diff)
	}
}

func TestLedgerNeverYieldsTombstonedPosts(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var posts []Post
	for i := 0; i < 20; i++ {
		posts = append(posts, Post{ID: fmt.Sprintf("p%d", i), CreatedAt: base})
	}

	for round := 0; round < 200; round++ {
		ledger := NewLedger()
		for op := 0; op < 15; op++ {
			id := posts[rng.Intn(len(posts))].ID
			switch rng.Intn(4) {
			case 0:
				ledger.RecordDeletion(id)
			case 1:
				ledger.RemoveEdit(id)
			default:
				ledger.RecordEdit(id, CaptionPatch(fmt.Sprintf("c%d", op)))
			}
		}
		for _, post := range ledger.Apply(posts) {
			require.Falsef(t, ledger.IsDeleted(post.ID), "round %d: tombstoned %s in output", round, post.ID)
		}
	}
}

func TestLedgerRemoveAndClear(t *testing.T) {
	ledger := NewLedger()
	require.Equal(t, uint64(0), ledger.Version())

	ledger.RecordEdit("p1", CaptionPatch("x"))
	ledger.RecordDeletion("p2")
	v := ledger.Version()

	ledger.RemoveEdit("missing")
	require.Equal(t, v, ledger.Version(), "removing an absent edit must not bump the version")

	ledger.RemoveEdit("p1")
	_, ok := ledger.Edit("p1")
	require.False(t, ok)

	ledger.Clear()
	require.False(t, ledger.IsDeleted("p2"))
	require.Greater(t, ledger.Version(), v)
	require.Len(t, ledger.Apply(samplePosts()), 3)
}

func TestLedgerRevertEditOnlyTouchesOwnFields(t *testing.T) {
	ledger := NewLedger()
	first := CaptionPatch("first")
	ledger.RecordEdit("p1", first)

	previous, _ := ledger.Edit("p1")
	second := CaptionPatch("second")
	ledger.RecordEdit("p1", second)
	likers := []string{"u9"}
	ledger.RecordEdit("p1", PostPatch{LikerIDs: &likers})

	ledger.RevertEdit("p1", second, previous)
	edit, ok := ledger.Edit("p1")
	require.True(t, ok)
	require.Equal(t, "first", *edit.Caption)
	require.Equal(t, []string{"u9"}, *edit.LikerIDs)

	// A field overwritten after the patch is no longer the patch's to undo.
	third := CaptionPatch("third")
	ledger.RecordEdit("p1", third)
	v := ledger.Version()
	ledger.RevertEdit("p1", second, previous)
	require.Equal(t, v, ledger.Version())
	edit, _ = ledger.Edit("p1")
	require.Equal(t, "third", *edit.Caption)

	ledger.RevertEdit("p1", third, PostPatch{})
	ledger.RevertEdit("p1", PostPatch{LikerIDs: &likers}, PostPatch{})
	_, ok = ledger.Edit("p1")
	require.False(t, ok, "an emptied edit is dropped")
}

func TestLedgerIgnoresEmptyPatch(t *testing.T) {
	ledger := NewLedger()
	ledger.RecordEdit("p1", PostPatch{})
	_, ok := ledger.Edit("p1")
	require.False(t, ok)
	require.Equal(t, uint64(0), ledger.Version())
}

func TestLikePatchKeepsLikersUnique(t *testing.T) {
	post := Post{ID: "p1", LikerIDs: []string{"u1", "u2"}}

	liked := LikePatch(post, "u2", true)
	require.Equal(t, []string{"u1", "u2"}, *liked.LikerIDs)

	unliked := LikePatch(post, "u1", false)
	require.Equal(t, []string{"u2"}, *unliked.LikerIDs)
}
