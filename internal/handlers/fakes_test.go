package handlers

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/inkpost/apiserver/internal/auth"
	"github.com/inkpost/apiserver/internal/services"
	"github.com/inkpost/apiserver/internal/storage"
	"github.com/inkpost/apiserver/internal/store"
	"github.com/inkpost/apiserver/types"
)

// memDB backs both repositories so posts can resolve their authors.
type memDB struct {
	mu    sync.Mutex
	clock time.Time
	users map[string]types.User
	posts map[string]types.Post
}

func newMemDB() *memDB {
	return &memDB{
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		users: map[string]types.User{},
		posts: map[string]types.Post{},
	}
}

func (m *memDB) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

type memUserRepo struct{ db *memDB }

func (r memUserRepo) GetByID(_ context.Context, id string) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (r memUserRepo) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == email {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r memUserRepo) List(_ context.Context, offset, limit int) ([]types.User, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	all := make([]types.User, 0, len(r.db.users))
	for _, u := range r.db.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return window(all, offset, limit), len(all), nil
}

func (r memUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == user.Email {
			return types.User{}, store.ErrDuplicate
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = r.db.tick()
	user.UpdatedAt = user.CreatedAt
	r.db.users[user.ID] = user
	return user, nil
}

func (r memUserRepo) Update(_ context.Context, user types.User) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	user.Posts = nil
	user.UpdatedAt = r.db.tick()
	r.db.users[user.ID] = user
	return user, nil
}

func (r memUserRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.db.users, id)
	return nil
}

type memPostRepo struct{ db *memDB }

func (r memPostRepo) resolve(p types.Post) types.Post {
	if u, ok := r.db.users[p.AuthorID]; ok {
		p.Author = &u
	}
	return p
}

func (r memPostRepo) List(_ context.Context, filter types.PostFilter, offset, limit int) ([]types.Post, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var matched []types.Post
	for _, p := range r.db.posts {
		if filter.Published != nil && p.Published != *filter.Published {
			continue
		}
		if filter.AuthorID != nil && p.AuthorID != *filter.AuthorID {
			continue
		}
		if filter.SearchTerm != nil && !strings.Contains(p.Title, *filter.SearchTerm) {
			continue
		}
		matched = append(matched, r.resolve(p))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return window(matched, offset, limit), len(matched), nil
}

func (r memPostRepo) ListAllByAuthor(ctx context.Context, authorID string) ([]types.Post, error) {
	posts, _, err := r.List(ctx, types.PostFilter{AuthorID: &authorID}, 0, 1<<30)
	return posts, err
}

func (r memPostRepo) Get(_ context.Context, id string) (types.Post, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.posts[id]
	if !ok {
		return types.Post{}, store.ErrNotFound
	}
	return r.resolve(p), nil
}

func (r memPostRepo) Create(_ context.Context, post types.Post) (types.Post, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	post.ID = uuid.NewString()
	post.CreatedAt = r.db.tick()
	post.UpdatedAt = post.CreatedAt
	post.Author = nil
	r.db.posts[post.ID] = post
	return post, nil
}

func (r memPostRepo) Update(_ context.Context, post types.Post) (types.Post, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	current, ok := r.db.posts[post.ID]
	if !ok {
		return types.Post{}, store.ErrNotFound
	}
	post.AuthorID = current.AuthorID
	post.UpdatedAt = r.db.tick()
	stored := post
	stored.Author = nil
	r.db.posts[post.ID] = stored
	return post, nil
}

func (r memPostRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.posts[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.db.posts, id)
	return nil
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

type memCovers struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memCovers) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memCovers) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memCovers) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return fs.ErrNotExist
	}
	delete(m.objects, key)
	return nil
}

type testApp struct {
	router  http.Handler
	db      *memDB
	covers  *memCovers
	users   *services.UserService
	posts   *services.PostService
	auth    *services.AuthService
	issuer  *auth.Issuer
	limiter *RateLimiter
}

// newTestApp mounts every router the way the server does, on in-memory
// repositories.
func newTestApp() *testApp {
	db := newMemDB()
	covers := &memCovers{objects: map[string][]byte{}}
	postRepo := memPostRepo{db: db}

	users := services.NewUserService(memUserRepo{db: db}, postRepo, nil, nil)
	posts := services.NewPostService(postRepo, users, covers, 1<<10, nil, nil)
	issuer := auth.NewIssuer("handler-secret", time.Minute)
	authService := services.NewAuthService(users, issuer, nil)
	limiter := NewRateLimiter(0, 1, false)
	authMiddleware := RequireAuth(issuer, authService)

	router := chi.NewRouter()
	router.Get("/healthz", Healthz)
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, authService, issuer, limiter)
	})
	router.Route("/users", func(r chi.Router) {
		UserRouter(r, users, posts, authMiddleware)
	})
	router.Route("/posts", func(r chi.Router) {
		PostRouter(r, posts, authMiddleware, true)
	})

	return &testApp{
		router:  router,
		db:      db,
		covers:  covers,
		users:   users,
		posts:   posts,
		auth:    authService,
		issuer:  issuer,
		limiter: limiter,
	}
}
