package types

import "time"

// Post represents a blog post authored by a single user.
type Post struct {
	// ID is the opaque unique identifier of the post.
	ID string `json:"id" db:"id"`

	// Title is the headline of the post.
	Title string `json:"title" db:"title"`

	// Content is the free-text body of the post.
	Content string `json:"content" db:"content"`

	// Published marks the post as publicly released. Defaults to false.
	Published bool `json:"published" db:"published"`

	// AuthorID references the user who created the post. It is taken from
	// the authenticated caller and never changes after creation.
	AuthorID string `json:"author_id" db:"author_id"`

	// Author is the resolved author, when loaded.
	Author *User `json:"author,omitempty" db:"-"`

	// CoverKey is the object storage key of the cover image, if any.
	CoverKey string `json:"cover_key,omitempty" db:"cover_key"`

	// CreatedAt is the timestamp at which the post was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the post.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CreatePostInput struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Published *bool  `json:"published,omitempty"`
}

// UpdatePostInput carries a partial update; nil fields are left untouched.
type UpdatePostInput struct {
	Title     *string `json:"title,omitempty"`
	Content   *string `json:"content,omitempty"`
	Published *bool   `json:"published,omitempty"`
}

// PostFilter narrows post listings. Every non-nil field is ANDed into the
// predicate; an empty filter matches all posts.
type PostFilter struct {
	Published  *bool
	AuthorID   *string
	SearchTerm *string
}

// Empty reports whether no filter field is set.
func (f PostFilter) Empty() bool {
	return f.Published == nil && f.AuthorID == nil && f.SearchTerm == nil
}
