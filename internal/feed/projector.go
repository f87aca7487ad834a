package feed

import (
	"hash/fnv"
	"slices"
	"sync"
)

// Aspect estimates used when a post has no declared dimensions.
const (
	MinEstimatedAspect = 0.8
	MaxEstimatedAspect = 1.6
)

// Order controls the ordering of a projection.
type Order int

const (
	// OrderArrival keeps the Data Source order.
	OrderArrival Order = iota
	// OrderNewest sorts by creation time, newest first, stable on ties.
	OrderNewest
)

// Options configures a projection.
type Options struct {
	Order Order
	// Columns > 0 buckets the posts into masonry columns.
	Columns int
}

// PresentationComment is a comment with its author resolved.
type PresentationComment struct {
	Comment
	Author Identity `json:"author"`
}

// PresentationPost is a render-ready post.
type PresentationPost struct {
	Post
	Author   Identity              `json:"author"`
	Comments []PresentationComment `json:"comments"`
	// Aspect is height per unit of width.
	Aspect float64 `json:"aspect"`
}

// Projection is the output of Project.
type Projection struct {
	Posts   []PresentationPost   `json:"posts"`
	Columns [][]PresentationPost `json:"columns,omitempty"`
}

// Project runs the feed pipeline: drop tombstoned posts, apply pending edits,
// attach author identities, then order and optionally bucket into columns.
// ledger and identities may be nil.
func Project(raw []Post, ledger *Ledger, identities *IdentityResolver, opts Options) Projection {
	posts := raw
	if ledger != nil {
		posts = ledger.Apply(raw)
	}

	out := make([]PresentationPost, 0, len(posts))
	for _, post := range posts {
		out = append(out, present(post, identities))
	}

	if opts.Order == OrderNewest {
		slices.SortStableFunc(out, func(a, b PresentationPost) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
	}

	projection := Projection{Posts: out}
	if opts.Columns > 0 {
		projection.Columns = Bucket(out, opts.Columns)
	}
	return projection
}

func present(post Post, identities *IdentityResolver) PresentationPost {
	lookup := PlaceholderIdentity
	if identities != nil {
		lookup = identities.Lookup
	}
	comments := make([]PresentationComment, 0, len(post.Comments))
	for _, comment := range post.Comments {
		comments = append(comments, PresentationComment{
			Comment: comment,
			Author:  lookup(comment.AuthorID),
		})
	}
	return PresentationPost{
		Post:     post,
		Author:   lookup(post.AuthorID),
		Comments: comments,
		Aspect:   EstimateAspect(post),
	}
}

// EstimateAspect returns height/width from declared dimensions, or a stable
// pseudo-random value in [MinEstimatedAspect, MaxEstimatedAspect) derived
// from the post id.
func EstimateAspect(post Post) float64 {
	if post.Width > 0 && post.Height > 0 {
		return float64(post.Height) / float64(post.Width)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(post.ID))
	fraction := float64(h.Sum64()%1000) / 1000
	return MinEstimatedAspect + fraction*(MaxEstimatedAspect-MinEstimatedAspect)
}

// Bucket distributes posts over n columns, each post going to the column
// with the smallest accumulated aspect. Ties go to the lowest index.
func Bucket(posts []PresentationPost, n int) [][]PresentationPost {
	if n <= 0 {
		return nil
	}
	columns := make([][]PresentationPost, n)
	heights := make([]float64, n)
	for _, post := range posts {
		shortest := 0
		for i := 1; i < n; i++ {
			if heights[i] < heights[shortest] {
				shortest = i
			}
		}
		columns[shortest] = append(columns[shortest], post)
		heights[shortest] += post.Aspect
	}
	return columns
}

// Projector memoises Project over its three inputs: the raw list generation,
// the ledger version and the identity cache version.
type Projector struct {
	ledger     *Ledger
	identities *IdentityResolver
	opts       Options

	mu    sync.Mutex
	memo  projectionKey
	valid bool
	last  Projection
	runs  int
}

type projectionKey struct {
	generation uint64
	ledger     uint64
	identities uint64
}

func NewProjector(ledger *Ledger, identities *IdentityResolver, opts Options) *Projector {
	return &Projector{ledger: ledger, identities: identities, opts: opts}
}

// Project recomputes only when generation, the ledger or the identity cache
// changed since the previous call. Callers must bump generation whenever
// raw changes.
func (p *Projector) Project(raw []Post, generation uint64) Projection {
	key := projectionKey{generation: generation}
	if p.ledger != nil {
		key.ledger = p.ledger.Version()
	}
	if p.identities != nil {
		key.identities = p.identities.Version()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.valid && p.memo == key {
		return p.last
	}
	p.last = Project(raw, p.ledger, p.identities, p.opts)
	p.memo = key
	p.valid = true
	p.runs++
	return p.last
}

// SetOptions changes layout options and invalidates the memo.
func (p *Projector) SetOptions(opts Options) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts
	p.valid = false
}

// Runs reports how many times the pipeline actually ran.
func (p *Projector) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}
