package feed

import "sync"

// Ledger records optimistic edits and deletions that the next server fetch
// may not reflect yet. It is never persisted; a full reload clears it.
type Ledger struct {
	mu        sync.RWMutex
	edits     map[string]PostPatch
	deletions map[string]struct{}
	version   uint64
}

func NewLedger() *Ledger {
	return &Ledger{
		edits:     make(map[string]PostPatch),
		deletions: make(map[string]struct{}),
	}
}

// RecordEdit merges patch into any existing edit for id. Later fields win.
func (l *Ledger) RecordEdit(id string, patch PostPatch) {
	if patch.IsZero() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.edits[id] = l.edits[id].merge(patch)
	l.version++
}

// RecordDeletion tombstones id. A tombstone outranks any edit for the same id.
func (l *Ledger) RecordDeletion(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.deletions[id]; ok {
		return
	}
	l.deletions[id] = struct{}{}
	l.version++
}

// RemoveEdit drops the edit for id, e.g. after the server rejected it.
func (l *Ledger) RemoveEdit(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.edits[id]; !ok {
		return
	}
	delete(l.edits, id)
	l.version++
}

// RevertEdit undoes applied, a patch earlier passed to RecordEdit for id.
// Each field applied set goes back to its value in previous, but only while
// the ledger still holds the value applied wrote; fields overwritten since
// belong to the later edit and are left alone.
func (l *Ledger) RevertEdit(id string, applied, previous PostPatch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.edits[id]
	if !ok {
		return
	}
	reverted := false
	if applied.Caption != nil && current.Caption == applied.Caption {
		current.Caption, reverted = previous.Caption, true
	}
	if applied.ImageRef != nil && current.ImageRef == applied.ImageRef {
		current.ImageRef, reverted = previous.ImageRef, true
	}
	if applied.LikerIDs != nil && current.LikerIDs == applied.LikerIDs {
		current.LikerIDs, reverted = previous.LikerIDs, true
	}
	if applied.Comments != nil && current.Comments == applied.Comments {
		current.Comments, reverted = previous.Comments, true
	}
	if !reverted {
		return
	}
	if current.IsZero() {
		delete(l.edits, id)
	} else {
		l.edits[id] = current
	}
	l.version++
}

// RemoveDeletion lifts the tombstone for id.
func (l *Ledger) RemoveDeletion(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.deletions[id]; !ok {
		return
	}
	delete(l.deletions, id)
	l.version++
}

// Edit returns the pending edit for id.
func (l *Ledger) Edit(id string) (PostPatch, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	patch, ok := l.edits[id]
	return patch, ok
}

// IsDeleted reports whether id carries a tombstone.
func (l *Ledger) IsDeleted(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.deletions[id]
	return ok
}

// Apply returns a new slice with tombstoned posts removed and edited posts
// patched. posts is not modified.
func (l *Ledger) Apply(posts []Post) []Post {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Post, 0, len(posts))
	for _, post := range posts {
		if _, deleted := l.deletions[post.ID]; deleted {
			continue
		}
		if patch, ok := l.edits[post.ID]; ok {
			post = patch.applyTo(post)
		}
		out = append(out, post)
	}
	return out
}

// ApplyOne patches a single post. ok is false when the post is tombstoned.
func (l *Ledger) ApplyOne(post Post) (Post, bool) {
	out := l.Apply([]Post{post})
	if len(out) == 0 {
		return Post{}, false
	}
	return out[0], true
}

// Clear forgets every record.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.edits) == 0 && len(l.deletions) == 0 {
		return
	}
	l.edits = make(map[string]PostPatch)
	l.deletions = make(map[string]struct{})
	l.version++
}

// Version changes on every mutation of the ledger.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}
