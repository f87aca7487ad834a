package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"picwall/api/internal/feed"
)

func TestListPostsEncodesQuery(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/posts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("authorId") != "u1" || q.Get("sort") != "popular" || q.Get("page") != "2" || q.Get("limit") != "5" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"items":[{"id":"p1","authorId":"u1","imageRef":"posts/u1/a.png","caption":"hi","likerIds":["u2"],"likeCount":1,"comments":[{"id":"c1","authorId":"u2","text":"nice","createdAt":"2025-03-01T12:00:00Z"}],"createdAt":"2025-03-01T12:00:00Z"}],"hasMore":true}`))
	}))
	defer server.Close()

	page, err := New(server.URL, time.Second).ListPosts(context.Background(), feed.Query{AuthorID: "u1", Sort: "popular", Page: 2, Limit: 5})
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	want := feed.Page{
		Items: []feed.Post{{
			ID:        "p1",
			AuthorID:  "u1",
			ImageRef:  "posts/u1/a.png",
			Caption:   "hi",
			LikerIDs:  []string{"u2"},
			Comments:  []feed.Comment{{AuthorID: "u2", Text: "nice", CreatedAt: created}},
			CreatedAt: created,
		}},
		HasMore: true,
	}
	if diff := cmp.Diff(want, page); diff != "" {
		t.Fatalf("page mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchIdentitiesBatches(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		if len(ids) > identityBatchSize {
			t.Errorf("batch too large: %d", len(ids))
		}
		var out struct {
			Identities []feed.Identity `json:"identities"`
		}
		for _, id := range ids {
			if id == "ghost" {
				continue
			}
			out.Identities = append(out.Identities, feed.Identity{ID: id, DisplayName: strings.ToUpper(id)})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer server.Close()

	ids := make([]string, 0, 230)
	for i := 0; i < 229; i++ {
		ids = append(ids, fmt.Sprintf("u%03d", i))
	}
	ids = append(ids, "ghost")

	identities, err := New(server.URL, time.Second).FetchIdentities(context.Background(), ids)
	if err != nil {
		t.Fatalf("fetch identities: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 batches, got %d", got)
	}
	if len(identities) != 229 {
		t.Fatalf("expected 229 identities, got %d", len(identities))
	}
	if identities[0].ID != ids[0] || identities[228].ID != ids[228] {
		t.Fatalf("expected batch order preserved")
	}
}

func TestFetchPostNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"NOT_FOUND","error":"Not found"}`))
	}))
	defer server.Close()

	_, err := New(server.URL, time.Second).FetchPost(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMutationsSendTokenAndSurfaceErrors(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","error":"Unauthorized"}`))
			return
		}
		seen = append(seen, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodPatch:
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			_, _ = w.Write([]byte(`{"id":"p1","caption":"` + body["caption"] + `"}`))
		case strings.HasSuffix(r.URL.Path, "/comments"):
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"c1","authorId":"u1","text":"hey"}`))
		case r.Method == http.MethodDelete && !strings.HasSuffix(r.URL.Path, "/like"):
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"code":"FORBIDDEN","error":"Not your post"}`))
		default:
			_, _ = w.Write([]byte(`{"id":"p1","likerIds":["u1"]}`))
		}
	}))
	defer server.Close()

	c := New(server.URL, time.Second)
	_, err := c.Like(context.Background(), "p1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Code != "UNAUTHORIZED" {
		t.Fatalf("expected unauthorized api error, got %v", err)
	}

	c.SetToken("tok")
	post, err := c.EditCaption(context.Background(), "p1", "new")
	if err != nil || post.Caption != "new" {
		t.Fatalf("edit caption: %+v %v", post, err)
	}
	liked, err := c.Like(context.Background(), "p1")
	if err != nil || !liked.LikedBy("u1") {
		t.Fatalf("like: %+v %v", liked, err)
	}
	if _, err := c.Unlike(context.Background(), "p1"); err != nil {
		t.Fatalf("unlike: %v", err)
	}
	comment, err := c.AddComment(context.Background(), "p1", "hey")
	if err != nil || comment.Text != "hey" {
		t.Fatalf("comment: %+v %v", comment, err)
	}
	err = c.DeletePost(context.Background(), "p1")
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}

	want := []string{
		"PATCH /api/posts/p1",
		"POST /api/posts/p1/like",
		"DELETE /api/posts/p1/like",
		"POST /api/posts/p1/comments",
		"DELETE /api/posts/p1",
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestClientDrivesTimeline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/posts":
			_, _ = w.Write([]byte(`{"items":[{"id":"p1","authorId":"u1","createdAt":"2025-03-01T12:00:00Z"}],"hasMore":false}`))
		case "/api/identities":
			_, _ = w.Write([]byte(`{"identities":[{"id":"u1","displayName":"Ada","avatarRef":""}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := New(server.URL, time.Second)
	timeline := feed.NewTimeline(c, feed.NewIdentityResolver(c, nil), feed.Query{}, feed.Options{}, nil)
	if err := timeline.LoadMore(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	projection := timeline.Projection()
	if len(projection.Posts) != 1 || projection.Posts[0].Author.DisplayName != "Ada" {
		t.Fatalf("unexpected projection %+v", projection.Posts)
	}
}
