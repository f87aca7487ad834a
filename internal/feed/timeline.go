package feed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownPost is returned by optimistic helpers for posts not loaded.
var ErrUnknownPost = errors.New("feed: unknown post")

// Mutation performs the server side of an optimistic change.
type Mutation func(ctx context.Context) error

// Timeline accumulates pages from a DataSource and projects them with the
// ledger and identity cache it owns.
type Timeline struct {
	source     DataSource
	query      Query
	ledger     *Ledger
	identities *IdentityResolver
	projector  *Projector
	logger     *zap.Logger

	mu         sync.RWMutex
	posts      []Post
	index      map[string]int
	generation uint64
	nextPage   int
	hasMore    bool
	loaded     bool
}

// NewTimeline creates an empty timeline. identities is shared across views
// of the same session.
func NewTimeline(source DataSource, identities *IdentityResolver, query Query, opts Options, logger *zap.Logger) *Timeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if identities == nil {
		identities = NewIdentityResolver(nil, logger)
	}
	ledger := NewLedger()
	return &Timeline{
		source:     source,
		query:      query,
		ledger:     ledger,
		identities: identities,
		projector:  NewProjector(ledger, identities, opts),
		logger:     logger,
		index:      make(map[string]int),
	}
}

// LoadMore fetches the next page. Posts already loaded are refreshed in
// place; new ones are appended.
func (t *Timeline) LoadMore(ctx context.Context) error {
	t.mu.RLock()
	if t.loaded && !t.hasMore {
		t.mu.RUnlock()
		return nil
	}
	q := t.query
	q.Page = t.nextPage
	t.mu.RUnlock()

	page, err := t.source.ListPosts(ctx, q)
	if err != nil {
		return fmt.Errorf("load page %d: %w", q.Page, err)
	}

	t.mu.Lock()
	for _, post := range page.Items {
		if i, ok := t.index[post.ID]; ok {
			t.posts[i] = post
			continue
		}
		t.index[post.ID] = len(t.posts)
		t.posts = append(t.posts, post)
	}
	t.nextPage = q.Page + 1
	t.hasMore = page.HasMore
	t.loaded = true
	t.generation++
	t.mu.Unlock()

	t.identities.Resolve(ctx, authorIDs(page.Items))
	return nil
}

// Reload discards loaded pages and pending local records and fetches the
// first page again. On failure the current state is kept.
func (t *Timeline) Reload(ctx context.Context) error {
	q := t.query
	q.Page = 0
	page, err := t.source.ListPosts(ctx, q)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	t.mu.Lock()
	t.posts = nil
	t.index = make(map[string]int)
	for _, post := range page.Items {
		if _, ok := t.index[post.ID]; ok {
			continue
		}
		t.index[post.ID] = len(t.posts)
		t.posts = append(t.posts, post)
	}
	t.nextPage = 1
	t.hasMore = page.HasMore
	t.loaded = true
	t.generation++
	t.mu.Unlock()

	t.ledger.Clear()
	t.identities.Resolve(ctx, authorIDs(page.Items))
	return nil
}

// Posts returns the raw loaded posts in arrival order.
func (t *Timeline) Posts() []Post {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.posts)
}

// Generation changes whenever the raw list changes.
func (t *Timeline) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

func (t *Timeline) HasMore() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.loaded || t.hasMore
}

// Find returns a loaded post with pending edits applied. Tombstoned posts are
// not found.
func (t *Timeline) Find(id string) (Post, bool) {
	t.mu.RLock()
	i, ok := t.index[id]
	var post Post
	if ok {
		post = t.posts[i]
	}
	t.mu.RUnlock()
	if !ok {
		return Post{}, false
	}
	return t.ledger.ApplyOne(post)
}

// Projection returns the memoised render-ready list.
func (t *Timeline) Projection() Projection {
	t.mu.RLock()
	posts, generation := slices.Clone(t.posts), t.generation
	t.mu.RUnlock()
	return t.projector.Project(posts, generation)
}

func (t *Timeline) Ledger() *Ledger { return t.ledger }

func (t *Timeline) Identities() *IdentityResolver { return t.identities }

// SetOptions switches layout, e.g. from list to grid.
func (t *Timeline) SetOptions(opts Options) { t.projector.SetOptions(opts) }

// Edit records patch for id, then runs commit. If commit fails the fields
// patch set are restored to their earlier pending values and the error
// returned. Edits to other fields recorded meanwhile survive the rollback.
func (t *Timeline) Edit(ctx context.Context, id string, patch PostPatch, commit Mutation) error {
	previous, _ := t.ledger.Edit(id)
	t.ledger.RecordEdit(id, patch)
	if commit == nil {
		return nil
	}
	if err := commit(ctx); err != nil {
		t.ledger.RevertEdit(id, patch, previous)
		t.logger.Info("rolled back optimistic edit", zap.String("post_id", id), zap.Error(err))
		return err
	}
	return nil
}

// Delete tombstones id, then runs commit, lifting the tombstone on failure.
func (t *Timeline) Delete(ctx context.Context, id string, commit Mutation) error {
	already := t.ledger.IsDeleted(id)
	t.ledger.RecordDeletion(id)
	if commit == nil {
		return nil
	}
	if err := commit(ctx); err != nil {
		if !already {
			t.ledger.RemoveDeletion(id)
		}
		t.logger.Info("rolled back optimistic delete", zap.String("post_id", id), zap.Error(err))
		return err
	}
	return nil
}

// Like toggles userID in the likers of id.
func (t *Timeline) Like(ctx context.Context, id, userID string, liked bool, commit Mutation) error {
	post, ok := t.Find(id)
	if !ok {
		return ErrUnknownPost
	}
	return t.Edit(ctx, id, LikePatch(post, userID, liked), commit)
}

// Comment appends comment to id and resolves its author.
func (t *Timeline) Comment(ctx context.Context, id string, comment Comment, commit Mutation) error {
	post, ok := t.Find(id)
	if !ok {
		return ErrUnknownPost
	}
	t.identities.Resolve(ctx, []string{comment.AuthorID})
	return t.Edit(ctx, id, CommentPatch(post, comment), commit)
}
