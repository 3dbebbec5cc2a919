package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/peerhub/apiserver/internal/events"
	"github.com/peerhub/apiserver/internal/services"
	"github.com/peerhub/apiserver/internal/storage"
	"github.com/peerhub/apiserver/internal/store"
	"github.com/peerhub/apiserver/types"
)

const testSecret = "test-secret"

// memRepo is an in-memory services.UserRepository for handler tests.
type memRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]types.User
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[int64]types.User{}}
}

func (m *memRepo) GetByID(ctx context.Context, id int64) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	if user.Ratings == nil {
		user.Ratings = types.RatingMap{}
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *memRepo) UpdateLocation(ctx context.Context, id int64, location string) error {
	return m.update(id, func(u *types.User) { u.Location = location })
}

func (m *memRepo) UpdateImage(ctx context.Context, id int64, image string) error {
	return m.update(id, func(u *types.User) { u.Image = image })
}

func (m *memRepo) Rename(ctx context.Context, id int64, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for otherID, other := range m.users {
		if otherID != id && other.Username == username {
			return store.ErrConflict
		}
	}
	user, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.Username = username
	m.users[id] = user
	return nil
}

func (m *memRepo) Rate(ctx context.Context, targetUsername, rater string, grade float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, user := range m.users {
		if user.Username != targetUsername {
			continue
		}
		if user.Ratings == nil {
			user.Ratings = types.RatingMap{}
		}
		if err := user.Ratings.Merge(user.Username, rater, grade); err != nil {
			return err
		}
		m.users[id] = user
		return nil
	}
	return store.ErrNotFound
}

func (m *memRepo) update(id int64, fn func(*types.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&user)
	m.users[id] = user
	return nil
}

// memObjects is an in-memory storage.ObjectStorage backend.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) EnsureBucket(ctx context.Context) error { return nil }

func (m *memObjects) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memObjects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) Bucket() string { return "test-bucket" }

type testEnv struct {
	repo    *memRepo
	objects *memObjects
	svc     *services.UserService
	auth    *AuthHandler
	router  *chi.Mux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newMemRepo()
	svc := services.NewUserService(repo, events.NewPublisher(nil, "user-events", log), log)

	objects := newMemObjects()
	auth := NewAuthHandler(svc, testSecret, 24*time.Hour, log)
	profile := NewProfileHandler(svc, storage.NewAvatarStore(objects), log)

	router := chi.NewRouter()
	router.Route("/users", func(r chi.Router) {
		UserRouter(r, auth, profile)
	})

	return &testEnv{
		repo:    repo,
		objects: objects,
		svc:     svc,
		auth:    auth,
		router:  router,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// register creates an account through the API and returns a login token.
func (e *testEnv) register(t *testing.T, username, email string) string {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/users/register", "", RegisterRequest{
		Email:    email,
		Phone:    "123456789",
		Username: username,
		Password: "pw",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/users/login", "", LoginRequest{Username: username, Password: "pw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rec.Code, rec.Body.String())
	}

	var resp TokenResponse
	decodeBody(t, rec, &resp)
	if resp.Token == "" {
		t.Fatalf("login %s: empty token", username)
	}
	return resp.Token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
