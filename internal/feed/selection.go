package feed

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DefaultParam is the query parameter carrying the open post id.
const DefaultParam = "postId"

// Location is the URL the overlay state is mirrored into.
type Location interface {
	Query(key string) string
	// Push sets key and records a new history entry.
	Push(key, value string)
	// Replace sets key on the current history entry.
	Replace(key, value string)
}

// Notifier is implemented by locations that can change under the
// controller, e.g. on back navigation.
type Notifier interface {
	Subscribe(fn func()) (unsubscribe func())
}

// DetailStatus tracks the detail fetch for the open post.
type DetailStatus int

const (
	DetailIdle DetailStatus = iota
	DetailLoading
	DetailReady
	DetailUnavailable
)

func (s DetailStatus) String() string {
	switch s {
	case DetailLoading:
		return "loading"
	case DetailReady:
		return "ready"
	case DetailUnavailable:
		return "unavailable"
	default:
		return "idle"
	}
}

// Selection is a snapshot of the overlay state.
type Selection struct {
	ID           string
	Status       DetailStatus
	Detail       PresentationPost
	SubPanelOpen bool
}

// Open reports whether an overlay is showing.
func (s Selection) Open() bool { return s.ID != "" }

// SelectionConfig wires a SelectionController.
type SelectionConfig struct {
	Location Location
	// Param defaults to DefaultParam.
	Param string
	// Known looks a post up in the currently loaded list, after pending edits.
	Known      func(id string) (Post, bool)
	Fetcher    DetailFetcher
	Identities *IdentityResolver
	Ledger     *Ledger
	Logger     *zap.Logger
	// OnChange receives every settled state. It is called without locks held.
	OnChange func(Selection)
}

// SelectionController keeps "which post is open" and the URL parameter in
// agreement. The URL is the source of truth; the controller state is derived
// from it by Sync and written back by Open, Close and Escape.
type SelectionController struct {
	loc        Location
	param      string
	known      func(id string) (Post, bool)
	fetcher    DetailFetcher
	identities *IdentityResolver
	ledger     *Ledger
	logger     *zap.Logger
	onChange   func(Selection)

	ctx         context.Context
	stop        context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	mu       sync.Mutex
	selected string
	subPanel bool
	status   DetailStatus
	detail   PresentationPost
	seq      uint64
	cancel   context.CancelFunc
}

// NewSelectionController builds the controller and immediately reconstructs
// an open overlay from the URL, if it names a known post.
func NewSelectionController(cfg SelectionConfig) *SelectionController {
	if cfg.Param == "" {
		cfg.Param = DefaultParam
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Known == nil {
		cfg.Known = func(string) (Post, bool) { return Post{}, false }
	}
	ctx, stop := context.WithCancel(context.Background())
	c := &SelectionController{
		loc:        cfg.Location,
		param:      cfg.Param,
		known:      cfg.Known,
		fetcher:    cfg.Fetcher,
		identities: cfg.Identities,
		ledger:     cfg.Ledger,
		logger:     cfg.Logger,
		onChange:   cfg.OnChange,
		ctx:        ctx,
		stop:       stop,
	}
	if notifier, ok := cfg.Location.(Notifier); ok {
		c.unsubscribe = notifier.Subscribe(c.Sync)
	}
	c.Sync()
	return c
}

// Open selects id. Re-selecting the open post is a no-op; selecting another
// post replaces the current one without passing through Closed.
func (c *SelectionController) Open(id string) {
	if id == "" {
		c.Close()
		return
	}
	c.mu.Lock()
	if c.selected == id {
		c.mu.Unlock()
		return
	}
	post, ok := c.known(id)
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("ignoring selection of unknown post", zap.String("post_id", id))
		return
	}
	c.openLocked(post)
	if c.loc.Query(c.param) != id {
		c.loc.Push(c.param, id)
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snapshot)
}

// Close dismisses the overlay and clears the URL parameter.
func (c *SelectionController) Close() {
	c.mu.Lock()
	changed := c.selected != ""
	c.resetLocked()
	if c.loc.Query(c.param) != "" {
		c.loc.Replace(c.param, "")
		changed = true
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	if changed {
		c.notify(snapshot)
	}
}

// Escape closes an open sub-panel if there is one, otherwise the overlay.
// It reports whether anything was dismissed.
func (c *SelectionController) Escape() bool {
	c.mu.Lock()
	if c.selected == "" {
		c.mu.Unlock()
		return false
	}
	if c.subPanel {
		c.subPanel = false
		snapshot := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snapshot)
		return true
	}
	c.mu.Unlock()
	c.Close()
	return true
}

// SetSubPanelOpen records whether a nested panel (menu, confirm dialog, edit
// form) is showing inside the overlay.
func (c *SelectionController) SetSubPanelOpen(open bool) {
	c.mu.Lock()
	if c.selected == "" || c.subPanel == open {
		c.mu.Unlock()
		return
	}
	c.subPanel = open
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snapshot)
}

// Sync derives the state from the URL. Call it after the URL changed outside
// the controller or after the loaded list changed. A URL naming a post that
// is not loaded leaves the overlay closed and the URL untouched, so the post
// opens once it shows up.
func (c *SelectionController) Sync() {
	c.mu.Lock()
	id := c.loc.Query(c.param)
	changed := false
	switch {
	case id == "":
		if c.selected != "" {
			c.resetLocked()
			changed = true
		}
	case id == c.selected:
		if _, ok := c.known(id); !ok {
			c.resetLocked()
			c.loc.Replace(c.param, "")
			changed = true
		}
	default:
		if post, ok := c.known(id); ok {
			c.openLocked(post)
			changed = true
		} else if c.selected != "" {
			c.resetLocked()
			changed = true
		}
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	if changed {
		c.notify(snapshot)
	}
}

// State returns the current selection.
func (c *SelectionController) State() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until in-flight detail fetches have settled.
func (c *SelectionController) Wait() {
	c.wg.Wait()
}

// Stop cancels pending fetches and detaches from the location.
func (c *SelectionController) Stop() {
	c.stop()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.wg.Wait()
}

func (c *SelectionController) openLocked(post Post) {
	c.selected = post.ID
	c.subPanel = false
	c.detail = present(post, c.identities)
	c.startFetchLocked(post.ID)
}

func (c *SelectionController) resetLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.seq++
	c.selected = ""
	c.subPanel = false
	c.status = DetailIdle
	c.detail = PresentationPost{}
}

func (c *SelectionController) startFetchLocked(id string) {
	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	seq := c.seq
	if c.fetcher == nil {
		c.cancel = nil
		c.status = DetailReady
		return
	}
	c.status = DetailLoading
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		detail, status := c.loadDetail(ctx, id)

		c.mu.Lock()
		if seq != c.seq || c.selected != id {
			c.mu.Unlock()
			c.logger.Debug("discarding stale post detail", zap.String("post_id", id))
			return
		}
		c.status = status
		if status == DetailReady {
			c.detail = detail
		}
		snapshot := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snapshot)
	}()
}

func (c *SelectionController) loadDetail(ctx context.Context, id string) (PresentationPost, DetailStatus) {
	post, err := c.fetcher.FetchPost(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("post detail unavailable", zap.String("post_id", id), zap.Error(err))
		}
		return PresentationPost{}, DetailUnavailable
	}
	if c.ledger != nil {
		var ok bool
		if post, ok = c.ledger.ApplyOne(post); !ok {
			return PresentationPost{}, DetailUnavailable
		}
	}
	if c.identities != nil {
		c.identities.Resolve(ctx, authorIDs([]Post{post}))
	}
	return present(post, c.identities), DetailReady
}

func (c *SelectionController) snapshotLocked() Selection {
	return Selection{
		ID:           c.selected,
		Status:       c.status,
		Detail:       c.detail,
		SubPanelOpen: c.subPanel,
	}
}

func (c *SelectionController) notify(s Selection) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
