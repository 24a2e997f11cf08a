package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"

	"github.com/google/uuid"
	"github.com/inkpost/apiserver/internal/storage"
	"github.com/inkpost/apiserver/internal/store"
	"github.com/inkpost/apiserver/types"
)

// PostRepository defines persistence operations for posts.
type PostRepository interface {
	List(ctx context.Context, filter types.PostFilter, offset, limit int) ([]types.Post, int, error)
	ListAllByAuthor(ctx context.Context, authorID string) ([]types.Post, error)
	Get(ctx context.Context, id string) (types.Post, error)
	Create(ctx context.Context, post types.Post) (types.Post, error)
	Update(ctx context.Context, post types.Post) (types.Post, error)
	Delete(ctx context.Context, id string) error
}

// AuthorFinder resolves a post's author by id.
type AuthorFinder interface {
	Find(ctx context.Context, id string) (types.User, error)
}

// CoverStore holds post cover images.
type CoverStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

const defaultMaxCoverSize = 5 << 20

var coverExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// PostService encapsulates blog post use-cases.
type PostService struct {
	repo         PostRepository
	authors      AuthorFinder
	covers       CoverStore
	maxCoverSize int64
	notifier     Notifier
	logger       *slog.Logger
}

// NewPostService constructs the service. covers may be nil, in which case
// cover operations fail with ErrUnavailable.
func NewPostService(repo PostRepository, authors AuthorFinder, covers CoverStore, maxCoverSize int64, notifier Notifier, logger *slog.Logger) *PostService {
	if notifier == nil {
		notifier = NopNotifier
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxCoverSize <= 0 {
		maxCoverSize = defaultMaxCoverSize
	}
	return &PostService{
		repo:         repo,
		authors:      authors,
		covers:       covers,
		maxCoverSize: maxCoverSize,
		notifier:     notifier,
		logger:       logger.With("service", "posts"),
	}
}

// CanModify reports whether user may mutate post: admins always, otherwise
// only the author.
func CanModify(post types.Post, user types.User) bool {
	return user.IsAdmin() || post.AuthorID == user.ID
}

// Create stores a new post attributed to author. Posts are unpublished
// unless the input says otherwise.
func (s *PostService) Create(ctx context.Context, in types.CreatePostInput, author types.User) (types.Post, error) {
	published := false
	if in.Published != nil {
		published = *in.Published
	}

	post, err := s.repo.Create(ctx, types.Post{
		Title:     in.Title,
		Content:   in.Content,
		Published: published,
		AuthorID:  author.ID,
	})
	if err != nil {
		return types.Post{}, internalFailure(ctx, s.logger, "create post", err)
	}
	post.Author = &author

	s.notifier.Notify(ctx, newEvent(types.EventPostCreated, post.ID, author, post))
	return post, nil
}

func (s *PostService) List(ctx context.Context, p types.Pagination, filter types.PostFilter) (types.Page[types.Post], error) {
	p = p.Normalize()
	posts, total, err := s.repo.List(ctx, filter, p.Offset(), p.Limit)
	if err != nil {
		return types.Page[types.Post]{}, internalFailure(ctx, s.logger, "list posts", err)
	}
	return types.NewPage(posts, total, p), nil
}

func (s *PostService) ListByAuthor(ctx context.Context, authorID string, p types.Pagination) (types.Page[types.Post], error) {
	return s.List(ctx, p, types.PostFilter{AuthorID: &authorID})
}

func (s *PostService) GetByID(ctx context.Context, id string) (types.Post, error) {
	post, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Post{}, fmt.Errorf("%w: post %s", ErrNotFound, id)
		}
		return types.Post{}, internalFailure(ctx, s.logger, "get post", err)
	}
	return post, nil
}

// Author resolves the user who wrote post.
func (s *PostService) Author(ctx context.Context, post types.Post) (types.User, error) {
	if post.Author != nil {
		return *post.Author, nil
	}
	return s.authors.Find(ctx, post.AuthorID)
}

func (s *PostService) Update(ctx context.Context, id string, in types.UpdatePostInput, actor types.User) (types.Post, error) {
	post, err := s.loadModifiable(ctx, id, actor)
	if err != nil {
		return types.Post{}, err
	}

	if in.Title != nil {
		post.Title = *in.Title
	}
	if in.Content != nil {
		post.Content = *in.Content
	}
	if in.Published != nil {
		post.Published = *in.Published
	}

	updated, err := s.save(ctx, post, "update post")
	if err != nil {
		return types.Post{}, err
	}
	s.notifier.Notify(ctx, newEvent(types.EventPostUpdated, updated.ID, actor, updated))
	return updated, nil
}

func (s *PostService) Remove(ctx context.Context, id string, actor types.User) (bool, error) {
	post, err := s.loadModifiable(ctx, id, actor)
	if err != nil {
		return false, err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("%w: post %s", ErrNotFound, id)
		}
		return false, internalFailure(ctx, s.logger, "delete post", err)
	}
	s.deleteCover(ctx, post.CoverKey)

	s.notifier.Notify(ctx, newEvent(types.EventPostDeleted, id, actor, nil))
	return true, nil
}

func (s *PostService) Publish(ctx context.Context, id string, actor types.User) (types.Post, error) {
	return s.setPublished(ctx, id, actor, true)
}

func (s *PostService) Unpublish(ctx context.Context, id string, actor types.User) (types.Post, error) {
	return s.setPublished(ctx, id, actor, false)
}

func (s *PostService) setPublished(ctx context.Context, id string, actor types.User, published bool) (types.Post, error) {
	post, err := s.loadModifiable(ctx, id, actor)
	if err != nil {
		return types.Post{}, err
	}

	post.Published = published
	updated, err := s.save(ctx, post, "set post published")
	if err != nil {
		return types.Post{}, err
	}

	eventType := types.EventPostUnpublished
	if published {
		eventType = types.EventPostPublished
	}
	s.notifier.Notify(ctx, newEvent(eventType, updated.ID, actor, updated))
	return updated, nil
}

// SetCover uploads a cover image and points the post at it, replacing any
// previous cover.
func (s *PostService) SetCover(ctx context.Context, id string, actor types.User, r io.Reader, size int64, contentType string) (types.Post, error) {
	if s.covers == nil {
		return types.Post{}, fmt.Errorf("%w: cover storage is not configured", ErrUnavailable)
	}
	ext, ok := coverExtensions[contentType]
	if !ok {
		return types.Post{}, fmt.Errorf("%w: unsupported cover type %q", ErrInvalidInput, contentType)
	}
	if size <= 0 || size > s.maxCoverSize {
		return types.Post{}, fmt.Errorf("%w: cover must be between 1 and %d bytes", ErrInvalidInput, s.maxCoverSize)
	}

	post, err := s.loadModifiable(ctx, id, actor)
	if err != nil {
		return types.Post{}, err
	}

	key := path.Join("covers", post.ID, uuid.NewString()+ext)
	if err := s.covers.Put(ctx, key, r, size, contentType); err != nil {
		return types.Post{}, internalFailure(ctx, s.logger, "upload cover", err)
	}

	previous := post.CoverKey
	post.CoverKey = key
	updated, err := s.save(ctx, post, "set post cover")
	if err != nil {
		s.deleteCover(ctx, key)
		return types.Post{}, err
	}
	s.deleteCover(ctx, previous)

	s.notifier.Notify(ctx, newEvent(types.EventPostUpdated, updated.ID, actor, updated))
	return updated, nil
}

// Cover opens the post's cover image and reports its content type.
func (s *PostService) Cover(ctx context.Context, id string) (io.ReadCloser, string, error) {
	if s.covers == nil {
		return nil, "", fmt.Errorf("%w: cover storage is not configured", ErrUnavailable)
	}
	post, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if post.CoverKey == "" {
		return nil, "", fmt.Errorf("%w: post %s has no cover", ErrNotFound, id)
	}

	rc, err := s.covers.Get(ctx, post.CoverKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", fmt.Errorf("%w: cover of post %s", ErrNotFound, id)
		}
		return nil, "", internalFailure(ctx, s.logger, "open cover", err)
	}
	contentType := mime.TypeByExtension(path.Ext(post.CoverKey))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return rc, contentType, nil
}

// loadModifiable fetches the post and applies the ownership check before any
// mutation.
func (s *PostService) loadModifiable(ctx context.Context, id string, actor types.User) (types.Post, error) {
	post, err := s.GetByID(ctx, id)
	if err != nil {
		return types.Post{}, err
	}
	if !CanModify(post, actor) {
		return types.Post{}, fmt.Errorf("%w: only the author or an admin can modify this post", ErrForbidden)
	}
	return post, nil
}

func (s *PostService) save(ctx context.Context, post types.Post, op string) (types.Post, error) {
	updated, err := s.repo.Update(ctx, post)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Post{}, fmt.Errorf("%w: post %s", ErrNotFound, post.ID)
		}
		return types.Post{}, internalFailure(ctx, s.logger, op, err)
	}
	return updated, nil
}

func (s *PostService) deleteCover(ctx context.Context, key string) {
	if key == "" || s.covers == nil {
		return
	}
	if err := s.covers.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to delete cover", "key", key, "error", err)
	}
}
