// Package feed reconciles paginated server data with local optimistic edits
// and batched author identities for the home feed, explore grid and profile
// gallery, and keeps a URL-addressable post overlay in sync with the list.
package feed

import (
	"context"
	"slices"
	"time"
)

// Comment belongs to exactly one Post and is addressed by its position.
type Comment struct {
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Post is the entity flowing through the feed.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	ImageRef  string    `json:"imageRef"`
	Caption   string    `json:"caption"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	LikerIDs  []string  `json:"likerIds"`
	Comments  []Comment `json:"comments"`
	CreatedAt time.Time `json:"createdAt"`
}

// LikedBy reports whether userID is in the post's liker set.
func (p Post) LikedBy(userID string) bool {
	return slices.Contains(p.LikerIDs, userID)
}

func (p Post) clone() Post {
	p.LikerIDs = slices.Clone(p.LikerIDs)
	p.Comments = slices.Clone(p.Comments)
	return p
}

// Identity is the display projection of a user record.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef"`
	Placeholder bool   `json:"-"`
}

// PostPatch is a partial Post. Nil fields are left untouched.
type PostPatch struct {
	Caption  *string
	ImageRef *string
	LikerIDs *[]string
	Comments *[]Comment
}

// IsZero reports whether the patch changes nothing.
func (p PostPatch) IsZero() bool {
	return p.Caption == nil && p.ImageRef == nil && p.LikerIDs == nil && p.Comments == nil
}

// merge overlays next onto p; fields set in next win.
func (p PostPatch) merge(next PostPatch) PostPatch {
	if next.Caption != nil {
		p.Caption = next.Caption
	}
	if next.ImageRef != nil {
		p.ImageRef = next.ImageRef
	}
	if next.LikerIDs != nil {
		p.LikerIDs = next.LikerIDs
	}
	if next.Comments != nil {
		p.Comments = next.Comments
	}
	return p
}

func (p PostPatch) applyTo(post Post) Post {
	post = post.clone()
	if p.Caption != nil {
		post.Caption = *p.Caption
	}
	if p.ImageRef != nil {
		post.ImageRef = *p.ImageRef
	}
	if p.LikerIDs != nil {
		post.LikerIDs = dedupe(*p.LikerIDs)
	}
	if p.Comments != nil {
		post.Comments = slices.Clone(*p.Comments)
	}
	return post
}

// CaptionPatch replaces the caption.
func CaptionPatch(caption string) PostPatch {
	return PostPatch{Caption: &caption}
}

// LikePatch adds or removes userID from the post's likers.
func LikePatch(post Post, userID string, liked bool) PostPatch {
	likers := make([]string, 0, len(post.LikerIDs)+1)
	for _, id := range post.LikerIDs {
		if id != userID {
			likers = append(likers, id)
		}
	}
	if liked {
		likers = append(likers, userID)
	}
	return PostPatch{LikerIDs: &likers}
}

// CommentPatch appends comment to the post's comments.
func CommentPatch(post Post, comment Comment) PostPatch {
	comments := append(slices.Clone(post.Comments), comment)
	return PostPatch{Comments: &comments}
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Page is one response from the paginated Data Source.
type Page struct {
	Items   []Post `json:"items"`
	HasMore bool   `json:"hasMore"`
}

// Query selects which posts a DataSource returns.
type Query struct {
	AuthorID string
	IDs      []string
	Sort     string
	Page     int
	Limit    int
}

// DataSource serves pages of posts.
type DataSource interface {
	ListPosts(ctx context.Context, q Query) (Page, error)
}

// IdentityFetcher looks up a batch of identities. Missing IDs are simply
// absent from the result.
type IdentityFetcher interface {
	FetchIdentities(ctx context.Context, ids []string) ([]Identity, error)
}

// DetailFetcher loads the full record for a single post.
type DetailFetcher interface {
	FetchPost(ctx context.Context, id string) (Post, error)
}

// authorIDs collects every author referenced by posts and their comments,
// in first-seen order.
func authorIDs(posts []Post) []string {
	var ids []string
	seen := map[string]struct{}{}
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, post := range posts {
		add(post.AuthorID)
		for _, comment := range post.Comments {
			add(comment.AuthorID)
		}
	}
	return ids
}
