package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"picwall/api/internal/auth"
	"picwall/api/internal/authpw"
	"picwall/api/internal/config"
	"picwall/api/internal/events"
	"picwall/api/internal/media"
	"picwall/api/internal/rbac"
	"picwall/api/internal/search"
	"picwall/api/internal/store"
	"picwall/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// DataStore is the persistence surface the service needs.
// *store.PostgresStore satisfies it.
type DataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	ListIdentities(context.Context, []string) ([]store.Identity, error)
	ListPosts(context.Context, store.PostQuery) ([]store.Post, bool, error)
	GetPost(context.Context, string) (store.Post, error)
	InsertPost(context.Context, store.Post) (store.Post, error)
	UpdatePostCaption(context.Context, string, string) error
	DeletePost(context.Context, string) error
	LikePost(context.Context, string, string) error
	UnlikePost(context.Context, string, string) error
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(context.Context) error
}

// RefreshStore keeps refresh sessions; Redis or Postgres.
type RefreshStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type PasswordAuth interface {
	SignUp(context.Context, authpw.SignUpRequest) (store.User, error)
	SignIn(context.Context, string, string) (store.User, error)
}

type ImageStore interface {
	Upload(ctx context.Context, owner, contentType string, size int64, r io.Reader) (media.Image, error)
	Delete(ctx context.Context, ref string) error
	URL(ref string) string
}

type PostSearch interface {
	Search(context.Context, search.Query) search.Response
	IndexPost(search.PostRecord)
	DeletePost(string)
}

// Deps wires optional collaborators. Nil members fall back to Postgres
// (sessions, passwords) or are disabled (images, search, events).
type Deps struct {
	Store     DataStore
	Sessions  RefreshStore
	Passwords PasswordAuth
	Images    ImageStore
	Search    PostSearch
	Events    events.Publisher
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     DataStore
	sessions  RefreshStore
	passwords PasswordAuth
	images    ImageStore
	search    PostSearch
	events    events.Publisher
	policy    *bluemonday.Policy
	logger    *zap.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		passwords: deps.Passwords,
		images:    deps.Images,
		search:    deps.Search,
		events:    deps.Events,
		policy:    bluemonday.StrictPolicy(),
		logger:    deps.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.sessions == nil {
		if rs, ok := deps.Store.(RefreshStore); ok {
			s.sessions = rs
		}
	}
	if s.passwords == nil {
		if us, ok := deps.Store.(authpw.UserStore); ok {
			s.passwords = authpw.NewService(us)
		}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.cfg.PageSize <= 0 {
		s.cfg.PageSize = 12
	}
	return s
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	if s.passwords == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrEmailTaken):
			return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		case errors.Is(err, authpw.ErrMissingFields), errors.Is(err, authpw.ErrInvalidEmail), errors.Is(err, authpw.ErrWeakPassword):
			return Session{}, validationError(err.Error(), nil)
		}
		return Session{}, err
	}
	s.logger.Info("user signed up", zap.String("user_id", user.ID))
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	if s.passwords == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked before a new pair
// is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: string(rbac.Normalize(user.Role)),
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         string(rbac.Normalize(user.Role)),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      string(rbac.Normalize(user.Role)),
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

// Logout is best effort; revocation failures are logged, not returned.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh token", zap.Error(err))
		}
	}
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

type pinger interface {
	Ping(context.Context) error
}

// Ready reports per-dependency health; nil values are healthy.
func (s *Service) Ready(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if _, shared := s.sessions.(DataStore); !shared {
		if p, ok := s.sessions.(pinger); ok {
			checks["sessions"] = p.Ping(ctx)
		}
	}
	return checks
}

func (s *Service) publish(ctx context.Context, eventType events.Type, postID, actorID string) {
	err := s.events.Publish(ctx, events.Event{Type: eventType, PostID: postID, ActorID: actorID, At: time.Now().UTC()})
	if err != nil {
		s.logger.Warn("publish event", zap.String("type", string(eventType)), zap.String("post_id", postID), zap.Error(err))
	}
}
