package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"taskboard/api/internal/accounts"
	"taskboard/api/internal/store"
)

func newTestServer(fs *fakeStore) (*HTTPServer, *Service) {
	svc := newTestService(fs)
	return NewHTTPServer(svc, "*"), svc
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	rr := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if response := decodeResponse(t, rr); response["ok"] != true {
		t.Errorf("ok = %v, want true", response["ok"])
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("database up", func(t *testing.T) {
		server, _ := newTestServer(&fakeStore{})
		rr := doRequest(t, server, http.MethodGet, "/api/ready", "", "")
		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rr.Code)
		}
	})

	t.Run("database down", func(t *testing.T) {
		server, _ := newTestServer(&fakeStore{
			pingFn: func(context.Context) error { return errors.New("connection refused") },
		})
		rr := doRequest(t, server, http.MethodGet, "/api/ready", "", "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rr.Code)
		}
		if response := decodeResponse(t, rr); response["status"] != "not_ready" {
			t.Errorf("status field = %v", response["status"])
		}
	})
}

// signupStore backs the accounts service with an in-memory user table.
type signupStore struct {
	fakeStore
	mu    sync.Mutex
	users map[string]store.User
}

func newSignupStore() *signupStore {
	s := &signupStore{users: make(map[string]store.User)}
	s.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, u := range s.users {
			if u.Email == email {
				return u, nil
			}
		}
		return store.User{}, errors.New("user not found")
	}
	s.createUserFn = func(_ context.Context, user store.User) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.users[user.ID] = user
		return nil
	}
	s.getUserByIDFn = func(_ context.Context, id string) (store.User, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if u, ok := s.users[id]; ok {
			return u, nil
		}
		return store.User{}, errors.New("user not found")
	}
	return s
}

func TestSignUpAndSignIn(t *testing.T) {
	fs := newSignupStore()
	server, svc := newTestServer(&fs.fakeStore)
	svc.SetAccountsService(accounts.NewService(fs, nil))

	rr := doRequest(t, server, http.MethodPost, "/api/auth/signup", "",
		`{"email":"alice@example.com","password":"password123","displayName":"Alice"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["accessToken"] == nil || response["refreshToken"] == nil {
		t.Fatalf("signup response missing tokens: %v", response)
	}
	if response["userName"] != "Alice" {
		t.Errorf("userName = %v", response["userName"])
	}

	rr = doRequest(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"alice@example.com","password":"password123"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("signin status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"alice@example.com","password":"wrong"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", rr.Code)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	fs := newSignupStore()
	server, svc := newTestServer(&fs.fakeStore)
	svc.SetAccountsService(accounts.NewService(fs, nil))

	body := `{"email":"alice@example.com","password":"password123","displayName":"Alice"}`
	if rr := doRequest(t, server, http.MethodPost, "/api/auth/signup", "", body); rr.Code != http.StatusCreated {
		t.Fatalf("first signup status = %d", rr.Code)
	}
	if rr := doRequest(t, server, http.MethodPost, "/api/auth/signup", "", body); rr.Code != http.StatusConflict {
		t.Errorf("duplicate signup status = %d, want 409", rr.Code)
	}
}

func TestSignUpWithoutAccountsService(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	rr := doRequest(t, server, http.MethodPost, "/api/auth/signup", "",
		`{"email":"a@b.c","password":"password123","displayName":"A"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestSessionEndpoint(t *testing.T) {
	fs := &fakeStore{getUserByIDFn: userFixture("u1", "Alice")}
	server, svc := newTestServer(fs)

	t.Run("no token", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/api/session", "", "")
		if response := decodeResponse(t, rr); response["authenticated"] != false {
			t.Errorf("authenticated = %v, want false", response["authenticated"])
		}
	})

	t.Run("valid token", func(t *testing.T) {
		session, err := svc.CreateSession(context.Background(), "u1")
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		rr := doRequest(t, server, http.MethodGet, "/api/session", session.Token, "")
		response := decodeResponse(t, rr)
		if response["authenticated"] != true || response["userName"] != "Alice" {
			t.Errorf("response = %v", response)
		}
	})
}

func TestAuthenticatedRoutesRequireToken(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	paths := []string{
		"/api/search?q=x",
		"/api/workspaces/w1/presence",
		"/api/tasks/t1/presence",
		"/api/tasks/t1/attachments",
	}
	for _, path := range paths {
		rr := doRequest(t, server, http.MethodGet, path, "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, rr.Code)
		}
	}
}

func TestWorkspacePresenceEndpoint(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: userFixture("u1", "Alice"),
		getWorkspaceFn: func(_ context.Context, id string) (store.Workspace, error) {
			return store.Workspace{ID: id, Name: "Team"}, nil
		},
		isWorkspaceMemberFn: func(_ context.Context, userID, _ string) (bool, error) {
			return userID == "u1", nil
		},
	}
	server, svc := newTestServer(fs)
	svc.directory.JoinWorkspace("u1", "w1")

	session, err := svc.CreateSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	rr := doRequest(t, server, http.MethodGet, "/api/workspaces/w1/presence", session.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["count"] != float64(1) {
		t.Errorf("count = %v, want 1", response["count"])
	}
}

func TestRefreshEndpointRejectsUnknownToken(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	rr := doRequest(t, server, http.MethodPost, "/api/session/refresh", "", `{"refreshToken":"nope"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	fs := &fakeStore{getUserByIDFn: userFixture("u1", "Alice")}
	server, svc := newTestServer(fs)

	session, err := svc.CreateSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	rr := doRequest(t, server, http.MethodGet, "/api/nonsense", session.Token, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}
