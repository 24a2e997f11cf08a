package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/inkpost/apiserver/internal/auth"
	"github.com/inkpost/apiserver/internal/storage"
	"github.com/inkpost/apiserver/internal/store"
	"github.com/inkpost/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type memUsers struct {
	mu      sync.Mutex
	seq     int
	rows    map[string]types.User
	failErr error
	writes  int
}

func newMemUsers() *memUsers {
	return &memUsers{rows: map[string]types.User{}}
}

func (m *memUsers) GetByID(_ context.Context, id string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return types.User{}, m.failErr
	}
	u, ok := m.rows[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return types.User{}, m.failErr
	}
	for _, u := range m.rows {
		if u.Email == email {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUsers) List(_ context.Context, offset, limit int) ([]types.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, 0, m.failErr
	}
	all := make([]types.User, 0, len(m.rows))
	for _, u := range m.rows {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return window(all, offset, limit), len(all), nil
}

func (m *memUsers) Create(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return types.User{}, m.failErr
	}
	for _, u := range m.rows {
		if u.Email == user.Email {
			return types.User{}, store.ErrDuplicate
		}
	}
	m.seq++
	user.ID = fmt.Sprintf("u-%d", m.seq)
	user.CreatedAt = baseTime.Add(time.Duration(m.seq) * time.Minute)
	user.UpdatedAt = user.CreatedAt
	m.rows[user.ID] = user
	m.writes++
	return user, nil
}

func (m *memUsers) Update(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return types.User{}, m.failErr
	}
	if _, ok := m.rows[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	user.Posts = nil
	m.rows[user.ID] = user
	m.writes++
	return user, nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if _, ok := m.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.rows, id)
	m.writes++
	return nil
}

// seed inserts a user directly, bypassing hashing.
func (m *memUsers) seed(email string, role types.Role) types.User {
	u, err := m.Create(context.Background(), types.User{Email: email, Role: role, FirstName: "F", LastName: "L"})
	if err != nil {
		panic(err)
	}
	return u
}

type memPosts struct {
	mu      sync.Mutex
	seq     int
	rows    map[string]types.Post
	users   *memUsers
	failErr error
}

func newMemPosts(users *memUsers) *memPosts {
	return &memPosts{rows: map[string]types.Post{}, users: users}
}

func (m *memPosts) withAuthor(p types.Post) types.Post {
	if u, err := m.users.GetByID(context.Background(), p.AuthorID); err == nil {
		p.Author = &u
	}
	return p
}

func (m *memPosts) List(_ context.Context, filter types.PostFilter, offset, limit int) ([]types.Post, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, 0, m.failErr
	}
	var matched []types.Post
	for _, p := range m.rows {
		if filter.Published != nil && p.Published != *filter.Published {
			continue
		}
		if filter.AuthorID != nil && p.AuthorID != *filter.AuthorID {
			continue
		}
		if filter.SearchTerm != nil && !strings.Contains(p.Title, *filter.SearchTerm) {
			continue
		}
		matched = append(matched, m.withAuthor(p))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return window(matched, offset, limit), len(matched), nil
}

func (m *memPosts) ListAllByAuthor(ctx context.Context, authorID string) ([]types.Post, error) {
	posts, _, err := m.List(ctx, types.PostFilter{AuthorID: &authorID}, 0, 1<<30)
	return posts, err
}

func (m *memPosts) Get(_ context.Context, id string) (types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return types.Post{}, m.failErr
	}
	p, ok := m.rows[id]
	if !ok {
		return types.Post{}, store.ErrNotFound
	}
	return m.withAuthor(p), nil
}

func (m *memPosts) Create(_ context.Context, post types.Post) (types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return types.Post{}, m.failErr
	}
	m.seq++
	post.ID = fmt.Sprintf("p-%d", m.seq)
	post.CreatedAt = baseTime.Add(time.Duration(m.seq) * time.Minute)
	post.UpdatedAt = post.CreatedAt
	post.Author = nil
	m.rows[post.ID] = post
	return post, nil
}

func (m *memPosts) Update(_ context.Context, post types.Post) (types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return types.Post{}, m.failErr
	}
	current, ok := m.rows[post.ID]
	if !ok {
		return types.Post{}, store.ErrNotFound
	}
	stored := post
	stored.AuthorID = current.AuthorID
	stored.Author = nil
	m.rows[post.ID] = stored
	return post, nil
}

func (m *memPosts) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if _, ok := m.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recordingNotifier) Notify(_ context.Context, event types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type memCovers struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemCovers() *memCovers {
	return &memCovers{objects: map[string][]byte{}}
}

func (m *memCovers) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
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
	delete(m.objects, key)
	return nil
}

type fixture struct {
	users    *memUsers
	posts    *memPosts
	covers   *memCovers
	notifier *recordingNotifier
	userSvc  *UserService
	postSvc  *PostService
	authSvc  *AuthService
	issuer   *auth.Issuer
}

func newFixture() *fixture {
	users := newMemUsers()
	posts := newMemPosts(users)
	covers := newMemCovers()
	notifier := &recordingNotifier{}

	userSvc := NewUserService(users, posts, notifier, nil)
	userSvc.passwordCost = bcrypt.MinCost
	postSvc := NewPostService(posts, userSvc, covers, 16, notifier, nil)
	issuer := auth.NewIssuer("test-secret", time.Minute)

	return &fixture{
		users:    users,
		posts:    posts,
		covers:   covers,
		notifier: notifier,
		userSvc:  userSvc,
		postSvc:  postSvc,
		authSvc:  NewAuthService(userSvc, issuer, nil),
		issuer:   issuer,
	}
}

func ptr[T any](v T) *T { return &v }
