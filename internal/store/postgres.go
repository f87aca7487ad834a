package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, avatar_ref, role)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.AvatarRef, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, avatar_ref, role, created_at
		FROM users WHERE id=$1
	`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, avatar_ref, role, created_at
		FROM users WHERE email=LOWER($1)
	`, strings.TrimSpace(email)))
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.AvatarRef, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserAvatar(ctx context.Context, userID, avatarRef string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET avatar_ref=$2 WHERE id=$1`, userID, avatarRef)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	return expectOneRow(result)
}

// ListIdentities returns identities for the ids that exist; missing ids are
// skipped.
func (s *PostgresStore) ListIdentities(ctx context.Context, ids []string) ([]Identity, error) {
	if len(ids) == 0 {
		return []Identity{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, avatar_ref FROM users WHERE id = ANY($1) ORDER BY id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	identities := []Identity{}
	for rows.Next() {
		var identity Identity
		if err := rows.Scan(&identity.ID, &identity.DisplayName, &identity.AvatarRef); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.password_hash, u.avatar_ref, u.role, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash))
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1)`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// ListPosts returns matching posts and whether more exist past the page.
func (s *PostgresStore) ListPosts(ctx context.Context, q PostQuery) ([]Post, bool, error) {
	var (
		where []string
		args  []any
	)
	if q.AuthorID != "" {
		args = append(args, q.AuthorID)
		where = append(where, fmt.Sprintf("p.author_id = $%d", len(args)))
	}
	if len(q.IDs) > 0 {
		args = append(args, q.IDs)
		where = append(where, fmt.Sprintf("p.id = ANY($%d)", len(args)))
	}

	query := `SELECT p.id, p.author_id, p.image_ref, p.caption, p.width, p.height, p.created_at, p.updated_at FROM posts p`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch q.Sort {
	case SortPopular:
		query += ` ORDER BY (SELECT COUNT(*) FROM post_likes l WHERE l.post_id = p.id) DESC, p.created_at DESC, p.id DESC`
	default:
		query += ` ORDER BY p.created_at DESC, p.id DESC`
	}
	if q.Limit > 0 {
		args = append(args, q.Limit+1, max(q.Offset, 0))
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		var post Post
		if err := rows.Scan(&post.ID, &post.AuthorID, &post.ImageRef, &post.Caption, &post.Width, &post.Height, &post.CreatedAt, &post.UpdatedAt); err != nil {
			return nil, false, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := false
	if q.Limit > 0 && len(posts) > q.Limit {
		posts = posts[:q.Limit]
		hasMore = true
	}
	if err := s.attachRelations(ctx, posts); err != nil {
		return nil, false, err
	}
	return posts, hasMore, nil
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	posts, _, err := s.ListPosts(ctx, PostQuery{IDs: []string{postID}})
	if err != nil {
		return Post{}, err
	}
	if len(posts) == 0 {
		return Post{}, sql.ErrNoRows
	}
	return posts[0], nil
}

// attachRelations loads likers and comments for posts in two queries.
func (s *PostgresStore) attachRelations(ctx context.Context, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, len(posts))
	byID := make(map[string]*Post, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
		posts[i].LikerIDs = []string{}
		posts[i].Comments = []Comment{}
		byID[posts[i].ID] = &posts[i]
	}

	likeRows, err := s.db.QueryContext(ctx, `
		SELECT post_id, user_id FROM post_likes WHERE post_id = ANY($1) ORDER BY created_at, user_id
	`, ids)
	if err != nil {
		return fmt.Errorf("list likes: %w", err)
	}
	for likeRows.Next() {
		var postID, userID string
		if err := likeRows.Scan(&postID, &userID); err != nil {
			likeRows.Close()
			return fmt.Errorf("scan like: %w", err)
		}
		byID[postID].LikerIDs = append(byID[postID].LikerIDs, userID)
	}
	likeRows.Close()
	if err := likeRows.Err(); err != nil {
		return err
	}

	commentRows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, author_id, body, created_at FROM comments
		WHERE post_id = ANY($1) ORDER BY created_at, id
	`, ids)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}
	defer commentRows.Close()
	for commentRows.Next() {
		var comment Comment
		if err := commentRows.Scan(&comment.ID, &comment.PostID, &comment.AuthorID, &comment.Body, &comment.CreatedAt); err != nil {
			return fmt.Errorf("scan comment: %w", err)
		}
		byID[comment.PostID].Comments = append(byID[comment.PostID].Comments, comment)
	}
	return commentRows.Err()
}

func (s *PostgresStore) InsertPost(ctx context.Context, post Post) (Post, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO posts (id, author_id, image_ref, caption, width, height)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, post.ID, post.AuthorID, post.ImageRef, post.Caption, post.Width, post.Height).Scan(&post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	post.LikerIDs = []string{}
	post.Comments = []Comment{}
	return post, nil
}

func (s *PostgresStore) UpdatePostCaption(ctx context.Context, postID, caption string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE posts SET caption=$2, updated_at=NOW() WHERE id=$1`, postID, caption)
	if err != nil {
		return fmt.Errorf("update caption: %w", err)
	}
	return expectOneRow(result)
}

func (s *PostgresStore) DeletePost(ctx context.Context, postID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=$1`, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return expectOneRow(result)
}

// LikePost is idempotent; a second like by the same user is ignored.
func (s *PostgresStore) LikePost(ctx context.Context, postID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2)
		ON CONFLICT (post_id, user_id) DO NOTHING
	`, postID, userID)
	if err != nil {
		return fmt.Errorf("like post: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnlikePost(ctx context.Context, postID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM post_likes WHERE post_id=$1 AND user_id=$2`, postID, userID)
	if err != nil {
		return fmt.Errorf("unlike post: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, post_id, author_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, comment.ID, comment.PostID, comment.AuthorID, comment.Body).Scan(&comment.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func expectOneRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint error.
func IsUniqueViolation(err error) bool {
	var coded interface{ SQLState() string }
	return errors.As(err, &coded) && coded.SQLState() == "23505"
}
