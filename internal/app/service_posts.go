package app

import (
	"context"
	"errors"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"picwall/api/internal/events"
	"picwall/api/internal/media"
	"picwall/api/internal/rbac"
	"picwall/api/internal/search"
	"picwall/api/internal/store"
	"picwall/api/internal/util"
)

const (
	maxCaptionLength = 2200
	maxCommentLength = 500
	maxPageSize      = 100
	maxIdentityBatch = 100
)

type PostView struct {
	ID        string        `json:"id"`
	AuthorID  string        `json:"authorId"`
	ImageRef  string        `json:"imageRef"`
	ImageURL  string        `json:"imageUrl,omitempty"`
	Caption   string        `json:"caption"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	LikerIDs  []string      `json:"likerIds"`
	LikeCount int           `json:"likeCount"`
	Comments  []CommentView `json:"comments"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type CommentView struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type IdentityView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef"`
}

type PageView struct {
	Items   []PostView `json:"items"`
	HasMore bool       `json:"hasMore"`
}

type ListPostsInput struct {
	AuthorID string
	IDs      []string
	Sort     string
	Page     int
	Limit    int
}

type CreatePostInput struct {
	ImageRef string `json:"imageRef"`
	Caption  string `json:"caption"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

func (s *Service) ListPosts(ctx context.Context, input ListPostsInput) (PageView, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = s.cfg.PageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if input.Page < 0 {
		return PageView{}, validationError("page must not be negative", nil)
	}
	if len(input.IDs) > maxPageSize {
		return PageView{}, validationError("too many ids", map[string]any{"max": maxPageSize})
	}

	posts, hasMore, err := s.store.ListPosts(ctx, store.PostQuery{
		AuthorID: strings.TrimSpace(input.AuthorID),
		IDs:      input.IDs,
		Sort:     store.ParsePostSort(input.Sort),
		Limit:    limit,
		Offset:   input.Page * limit,
	})
	if err != nil {
		return PageView{}, err
	}
	items := make([]PostView, 0, len(posts))
	for _, post := range posts {
		items = append(items, s.postView(post))
	}
	return PageView{Items: items, HasMore: hasMore}, nil
}

func (s *Service) GetPost(ctx context.Context, postID string) (PostView, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return PostView{}, notFoundError("Post not found")
		}
		return PostView{}, err
	}
	return s.postView(post), nil
}

// ListIdentities tolerates unknown ids; they are simply absent.
func (s *Service) ListIdentities(ctx context.Context, ids []string) ([]IdentityView, error) {
	ids = compactIDs(ids)
	if len(ids) > maxIdentityBatch {
		return nil, validationError("too many ids", map[string]any{"max": maxIdentityBatch})
	}
	identities, err := s.store.ListIdentities(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]IdentityView, 0, len(identities))
	for _, identity := range identities {
		out = append(out, IdentityView{ID: identity.ID, DisplayName: identity.DisplayName, AvatarRef: identity.AvatarRef})
	}
	return out, nil
}

func (s *Service) UploadImage(ctx context.Context, session Session, contentType string, size int64, r io.Reader) (media.Image, error) {
	if !s.Can(session.Role, rbac.ActionPost) {
		return media.Image{}, forbiddenError("Posting not allowed")
	}
	if s.images == nil {
		return media.Image{}, domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "Image storage not configured", nil)
	}
	image, err := s.images.Upload(ctx, session.UserID, contentType, size, r)
	switch {
	case errors.Is(err, media.ErrTooLarge):
		return media.Image{}, domainError(http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "Image exceeds upload limit", map[string]any{"maxBytes": s.cfg.MaxUploadBytes})
	case errors.Is(err, media.ErrUnsupportedType):
		return media.Image{}, domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA", "Only JPEG, PNG, WebP and GIF images are accepted", nil)
	case errors.Is(err, media.ErrEmpty):
		return media.Image{}, validationError("image is empty", nil)
	case err != nil:
		return media.Image{}, err
	}
	s.logger.Info("image uploaded", zap.String("user_id", session.UserID), zap.String("ref", image.Ref), zap.Int64("size", image.Size))
	return image, nil
}

func (s *Service) CreatePost(ctx context.Context, session Session, input CreatePostInput) (PostView, error) {
	if !s.Can(session.Role, rbac.ActionPost) {
		return PostView{}, forbiddenError("Posting not allowed")
	}
	ref := strings.TrimSpace(input.ImageRef)
	if ref == "" {
		return PostView{}, validationError("imageRef is required", nil)
	}
	if s.images != nil && !media.OwnsRef(session.UserID, ref) {
		return PostView{}, validationError("imageRef must reference your own upload", nil)
	}
	if input.Width < 0 || input.Height < 0 {
		return PostView{}, validationError("dimensions must not be negative", nil)
	}
	caption, err := s.cleanText(input.Caption, "caption", maxCaptionLength, false)
	if err != nil {
		return PostView{}, err
	}

	post, err := s.store.InsertPost(ctx, store.Post{
		ID:       util.NewID("pst"),
		AuthorID: session.UserID,
		ImageRef: ref,
		Caption:  caption,
		Width:    input.Width,
		Height:   input.Height,
	})
	if err != nil {
		return PostView{}, err
	}
	s.indexPost(post, session.UserName)
	s.publish(ctx, events.PostCreated, post.ID, session.UserID)
	return s.postView(post), nil
}

func (s *Service) EditCaption(ctx context.Context, session Session, postID, caption string) (PostView, error) {
	post, err := s.ownedPost(ctx, session, postID)
	if err != nil {
		return PostView{}, err
	}
	cleaned, err := s.cleanText(caption, "caption", maxCaptionLength, false)
	if err != nil {
		return PostView{}, err
	}
	if err := s.store.UpdatePostCaption(ctx, postID, cleaned); err != nil {
		return PostView{}, err
	}
	post.Caption = cleaned
	post.UpdatedAt = time.Now().UTC()
	s.indexPost(post, s.authorName(ctx, post.AuthorID))
	s.publish(ctx, events.PostUpdated, postID, session.UserID)
	return s.postView(post), nil
}

func (s *Service) DeletePost(ctx context.Context, session Session, postID string) error {
	post, err := s.ownedPost(ctx, session, postID)
	if err != nil {
		return err
	}
	if err := s.store.DeletePost(ctx, postID); err != nil {
		return err
	}
	if s.images != nil {
		if err := s.images.Delete(ctx, post.ImageRef); err != nil {
			s.logger.Warn("delete image", zap.String("post_id", postID), zap.String("ref", post.ImageRef), zap.Error(err))
		}
	}
	if s.search != nil {
		s.search.DeletePost(postID)
	}
	s.publish(ctx, events.PostDeleted, postID, session.UserID)
	s.logger.Info("post deleted", zap.String("post_id", postID), zap.String("actor", session.UserID))
	return nil
}

// SetLike is idempotent in both directions.
func (s *Service) SetLike(ctx context.Context, session Session, postID string, liked bool) (PostView, error) {
	if !s.Can(session.Role, rbac.ActionLike) {
		return PostView{}, forbiddenError("Liking not allowed")
	}
	if _, err := s.GetPost(ctx, postID); err != nil {
		return PostView{}, err
	}
	eventType, mutate := events.PostLiked, s.store.LikePost
	if !liked {
		eventType, mutate = events.PostUnliked, s.store.UnlikePost
	}
	if err := mutate(ctx, postID, session.UserID); err != nil {
		return PostView{}, err
	}
	s.publish(ctx, eventType, postID, session.UserID)
	return s.GetPost(ctx, postID)
}

func (s *Service) AddComment(ctx context.Context, session Session, postID, text string) (CommentView, error) {
	if !s.Can(session.Role, rbac.ActionComment) {
		return CommentView{}, forbiddenError("Commenting not allowed")
	}
	cleaned, err := s.cleanText(text, "text", maxCommentLength, true)
	if err != nil {
		return CommentView{}, err
	}
	if _, err := s.GetPost(ctx, postID); err != nil {
		return CommentView{}, err
	}
	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:       util.NewID("cmt"),
		PostID:   postID,
		AuthorID: session.UserID,
		Body:     cleaned,
	})
	if err != nil {
		return CommentView{}, err
	}
	s.publish(ctx, events.CommentAdded, postID, session.UserID)
	return commentView(comment), nil
}

func (s *Service) Search(ctx context.Context, text, authorID string, limit, offset int) search.Response {
	query := search.Query{Text: strings.TrimSpace(text), AuthorID: authorID, Limit: limit, Offset: offset}
	if s.search == nil || query.Text == "" {
		return search.Response{Results: []search.Result{}, Query: query.Text}
	}
	return s.search.Search(ctx, query)
}

func (s *Service) ownedPost(ctx context.Context, session Session, postID string) (store.Post, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Post{}, notFoundError("Post not found")
		}
		return store.Post{}, err
	}
	if !rbac.CanModifyPost(rbac.Normalize(session.Role), session.UserID, post.AuthorID) {
		return store.Post{}, forbiddenError("Only the author or a moderator can change this post")
	}
	return post, nil
}

// cleanText strips markup and enforces a rune limit.
func (s *Service) cleanText(raw, field string, limit int, required bool) (string, error) {
	cleaned := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
	if required && cleaned == "" {
		return "", validationError(field+" is required", nil)
	}
	if n := utf8.RuneCountInString(cleaned); n > limit {
		return "", validationError(field+" is too long", map[string]any{"max": limit, "length": n})
	}
	return cleaned, nil
}

func (s *Service) authorName(ctx context.Context, userID string) string {
	identities, err := s.store.ListIdentities(ctx, []string{userID})
	if err != nil || len(identities) == 0 {
		return ""
	}
	return identities[0].DisplayName
}

func (s *Service) indexPost(post store.Post, authorName string) {
	if s.search == nil {
		return
	}
	s.search.IndexPost(search.PostRecord{
		ID:         post.ID,
		AuthorID:   post.AuthorID,
		AuthorName: authorName,
		ImageRef:   post.ImageRef,
		Caption:    post.Caption,
		CreatedAt:  post.CreatedAt.Unix(),
	})
}

func (s *Service) postView(post store.Post) PostView {
	view := PostView{
		ID:        post.ID,
		AuthorID:  post.AuthorID,
		ImageRef:  post.ImageRef,
		Caption:   post.Caption,
		Width:     post.Width,
		Height:    post.Height,
		LikerIDs:  post.LikerIDs,
		LikeCount: len(post.LikerIDs),
		Comments:  make([]CommentView, 0, len(post.Comments)),
		CreatedAt: post.CreatedAt,
		UpdatedAt: post.UpdatedAt,
	}
	if view.LikerIDs == nil {
		view.LikerIDs = []string{}
	}
	if s.images != nil {
		view.ImageURL = s.images.URL(post.ImageRef)
	}
	for _, comment := range post.Comments {
		view.Comments = append(view.Comments, commentView(comment))
	}
	return view
}

func commentView(comment store.Comment) CommentView {
	return CommentView{ID: comment.ID, AuthorID: comment.AuthorID, Text: comment.Body, CreatedAt: comment.CreatedAt}
}

func compactIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
