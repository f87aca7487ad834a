package store

import (
	"database/sql"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = sql.ErrNoRows

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	AvatarRef    string
	Role         string
	CreatedAt    time.Time
}

// Identity is the public projection of a user.
type Identity struct {
	ID          string
	DisplayName string
	AvatarRef   string
}

type Post struct {
	ID        string
	AuthorID  string
	ImageRef  string
	Caption   string
	Width     int
	Height    int
	LikerIDs  []string
	Comments  []Comment
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Comment struct {
	ID        string
	PostID    string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

type PostSort string

const (
	SortLatest  PostSort = "latest"
	SortPopular PostSort = "popular"
)

// ParsePostSort maps a query value to a sort, defaulting to latest.
func ParsePostSort(value string) PostSort {
	if PostSort(value) == SortPopular {
		return SortPopular
	}
	return SortLatest
}

// PostQuery filters ListPosts. Limit <= 0 means unpaginated.
type PostQuery struct {
	AuthorID string
	IDs      []string
	Sort     PostSort
	Limit    int
	Offset   int
}
