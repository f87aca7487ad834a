// Package client talks to the Picwall HTTP API and satisfies the feed
// collaborators (DataSource, IdentityFetcher, DetailFetcher).
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"picwall/api/internal/feed"
)

// ErrNotFound is returned when the API answers 404.
var ErrNotFound = errors.New("client: not found")

const identityBatchSize = 100

// APIError carries the server's error envelope.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("picwall api: %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Session is the subset of the sign-in response the client keeps.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
	} `json:"user"`
}

// SignIn authenticates and stores the access token on success.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var session Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", nil, body, &session); err != nil {
		return Session{}, err
	}
	c.SetToken(session.AccessToken)
	return session, nil
}

func (c *Client) ListPosts(ctx context.Context, q feed.Query) (feed.Page, error) {
	params := url.Values{}
	if q.AuthorID != "" {
		params.Set("authorId", q.AuthorID)
	}
	if len(q.IDs) > 0 {
		params.Set("ids", strings.Join(q.IDs, ","))
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	var page feed.Page
	if err := c.do(ctx, http.MethodGet, "/api/posts", params, nil, &page); err != nil {
		return feed.Page{}, fmt.Errorf("list posts: %w", err)
	}
	return page, nil
}

func (c *Client) FetchPost(ctx context.Context, id string) (feed.Post, error) {
	var post feed.Post
	if err := c.do(ctx, http.MethodGet, "/api/posts/"+url.PathEscape(id), nil, nil, &post); err != nil {
		return feed.Post{}, fmt.Errorf("fetch post %s: %w", id, err)
	}
	return post, nil
}

// FetchIdentities splits ids into batches and fetches them concurrently.
// Results keep batch order; IDs the server does not know are absent.
func (c *Client) FetchIdentities(ctx context.Context, ids []string) ([]feed.Identity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var batches [][]string
	for start := 0; start < len(ids); start += identityBatchSize {
		end := min(start+identityBatchSize, len(ids))
		batches = append(batches, ids[start:end])
	}

	results := make([][]feed.Identity, len(batches))
	g, ctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			var out struct {
				Identities []feed.Identity `json:"identities"`
			}
			params := url.Values{"ids": {strings.Join(batch, ",")}}
			if err := c.do(ctx, http.MethodGet, "/api/identities", params, nil, &out); err != nil {
				return fmt.Errorf("fetch identities: %w", err)
			}
			results[i] = out.Identities
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var identities []feed.Identity
	for _, batch := range results {
		identities = append(identities, batch...)
	}
	return identities, nil
}

func (c *Client) EditCaption(ctx context.Context, id, caption string) (feed.Post, error) {
	var post feed.Post
	err := c.do(ctx, http.MethodPatch, "/api/posts/"+url.PathEscape(id), nil, map[string]string{"caption": caption}, &post)
	return post, err
}

func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/posts/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) Like(ctx context.Context, id string) (feed.Post, error) {
	var post feed.Post
	err := c.do(ctx, http.MethodPost, "/api/posts/"+url.PathEscape(id)+"/like", nil, nil, &post)
	return post, err
}

func (c *Client) Unlike(ctx context.Context, id string) (feed.Post, error) {
	var post feed.Post
	err := c.do(ctx, http.MethodDelete, "/api/posts/"+url.PathEscape(id)+"/like", nil, nil, &post)
	return post, err
}

func (c *Client) AddComment(ctx context.Context, id, text string) (feed.Comment, error) {
	var comment feed.Comment
	err := c.do(ctx, http.MethodPost, "/api/posts/"+url.PathEscape(id)+"/comments", nil, map[string]string{"text": text}, &comment)
	return comment, err
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Code == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
