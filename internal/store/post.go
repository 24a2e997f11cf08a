package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inkpost/apiserver/types"
)

const postSelect = `
		SELECT p.id, p.title, p.content, p.published, p.author_id, p.cover_key, p.created_at, p.updated_at,
		       u.id, u.email, u.first_name, u.last_name, u.role, u.created_at, u.updated_at
		FROM posts p
		JOIN users u ON u.id = p.author_id`

// PostRepository handles persistence for posts. Reads always resolve the
// author.
type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

// List returns one page of posts matching filter, newest first, along with
// the total number of matches.
func (r *PostRepository) List(ctx context.Context, filter types.PostFilter, offset, limit int) ([]types.Post, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = types.DefaultLimit
	}

	where, args := postPredicate(filter)

	countQuery := `SELECT COUNT(1) FROM posts p` + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := postSelect + where + fmt.Sprintf(`
		ORDER BY p.created_at DESC, p.id DESC
		OFFSET $%d LIMIT $%d`, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, listQuery, append(args, offset, limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	posts := make([]types.Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return posts, total, nil
}

// ListAllByAuthor returns every post written by authorID, newest first.
func (r *PostRepository) ListAllByAuthor(ctx context.Context, authorID string) ([]types.Post, error) {
	const query = postSelect + `
		WHERE p.author_id = $1
		ORDER BY p.created_at DESC, p.id DESC`
	rows, err := r.db.QueryContext(ctx, query, authorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []types.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *PostRepository) Get(ctx context.Context, id string) (types.Post, error) {
	const query = postSelect + `
		WHERE p.id = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Post{}, ErrNotFound
		}
		return types.Post{}, err
	}
	return post, nil
}

// Create inserts the post under a freshly generated id. The returned post
// does not carry the resolved author.
func (r *PostRepository) Create(ctx context.Context, post types.Post) (types.Post, error) {
	now := time.Now().UTC()
	post.ID = uuid.NewString()
	post.CreatedAt = now
	post.UpdatedAt = now

	const query = `
		INSERT INTO posts (id, title, content, published, author_id, cover_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		post.ID,
		post.Title,
		post.Content,
		post.Published,
		post.AuthorID,
		post.CoverKey,
		post.CreatedAt,
		post.UpdatedAt,
	); err != nil {
		return types.Post{}, err
	}
	return post, nil
}

// Update persists the mutable columns of post. author_id is never written.
func (r *PostRepository) Update(ctx context.Context, post types.Post) (types.Post, error) {
	post.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE posts
		SET title = $1,
			content = $2,
			published = $3,
			cover_key = $4,
			updated_at = $5
		WHERE id = $6`
	result, err := r.db.ExecContext(
		ctx,
		query,
		post.Title,
		post.Content,
		post.Published,
		post.CoverKey,
		post.UpdatedAt,
		post.ID,
	)
	if err != nil {
		return types.Post{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Post{}, err
	}
	if affected == 0 {
		return types.Post{}, ErrNotFound
	}
	return post, nil
}

func (r *PostRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM posts WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// postPredicate builds the WHERE clause for filter. Title search is a
// case-sensitive substring match, so LIKE wildcards in the term are literal.
func postPredicate(filter types.PostFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Published != nil {
		args = append(args, *filter.Published)
		clauses = append(clauses, fmt.Sprintf("p.published = $%d", len(args)))
	}
	if filter.AuthorID != nil {
		args = append(args, *filter.AuthorID)
		clauses = append(clauses, fmt.Sprintf("p.author_id = $%d", len(args)))
	}
	if filter.SearchTerm != nil {
		args = append(args, *filter.SearchTerm)
		clauses = append(clauses, fmt.Sprintf("strpos(p.title, $%d) > 0", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "\n\t\tWHERE " + strings.Join(clauses, " AND "), args
}

func scanPost(row rowScanner) (types.Post, error) {
	var (
		post   types.Post
		author types.User
	)
	err := row.Scan(
		&post.ID,
		&post.Title,
		&post.Content,
		&post.Published,
		&post.AuthorID,
		&post.CoverKey,
		&post.CreatedAt,
		&post.UpdatedAt,
		&author.ID,
		&author.Email,
		&author.FirstName,
		&author.LastName,
		&author.Role,
		&author.CreatedAt,
		&author.UpdatedAt,
	)
	if err != nil {
		return types.Post{}, err
	}
	post.Author = &author
	return post, nil
}
