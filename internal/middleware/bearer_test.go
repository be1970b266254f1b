package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/authbridge/internal/model"
)

type mockResolver struct {
	resolveFn         func(ctx context.Context, credential string) (*model.User, error)
	resolveOptionalFn func(ctx context.Context, credential string) (*model.User, error)
}

func (m *mockResolver) Resolve(ctx context.Context, credential string) (*model.User, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, credential)
	}
	return nil, fmt.Errorf("%w: no credential", model.ErrUnauthenticated)
}

func (m *mockResolver) ResolveOptional(ctx context.Context, credential string) (*model.User, error) {
	if m.resolveOptionalFn != nil {
		return m.resolveOptionalFn(ctx, credential)
	}
	return nil, nil
}

var _ UserResolver = (*mockResolver)(nil)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("エラーレスポンスのデコードに失敗: %v", err)
	}
	return body
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"標準形式", "Bearer abc123", "abc123"},
		{"小文字プレフィックス", "bearer abc123", "abc123"},
		{"ヘッダなし", "", ""},
		{"プレフィックスのみ", "Bearer ", ""},
		{"別方式", "Basic dXNlcjpwYXNz", ""},
		{"プレフィックスなし", "abc123", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := extractBearer(r); got != tt.want {
				t.Errorf("extractBearer = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthMiddleware_InjectsUser(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, credential string) (*model.User, error) {
			if credential != "valid-token" {
				t.Errorf("credential = %q, want %q", credential, "valid-token")
			}
			return &model.User{ID: "user_1", ExternalID: "ext_1"}, nil
		},
	}

	var gotUser *model.User
	handler := NewAuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := UserFromContext(r.Context())
		if err != nil {
			t.Errorf("コンテキストからユーザーを取得できない: %v", err)
		}
		gotUser = user
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUser == nil || gotUser.ID != "user_1" {
		t.Errorf("user = %+v, want user_1", gotUser)
	}
}

func TestAuthMiddleware_Unauthenticated(t *testing.T) {
	resolver := &mockResolver{} // デフォルトでErrUnauthenticated

	handler := NewAuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("認証失敗でハンドラーが呼ばれた")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeUnauthenticated {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthenticated)
	}
}

func TestAuthMiddleware_UpstreamUnavailable(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, credential string) (*model.User, error) {
			return nil, fmt.Errorf("%w: idp down", model.ErrUpstreamUnavailable)
		},
	}

	handler := NewAuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("IdP障害でハンドラーが呼ばれた")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeUpstreamUnavailable {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUpstreamUnavailable)
	}
}

func TestAuthMiddleware_StoreFailure(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, credential string) (*model.User, error) {
			return nil, fmt.Errorf("%w: db down", model.ErrStoreFailure)
		},
	}

	handler := NewAuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("ストレージ障害でハンドラーが呼ばれた")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeStoreFailure {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeStoreFailure)
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	t.Run("未認証でもリクエストを通す", func(t *testing.T) {
		resolver := &mockResolver{}

		called := false
		handler := NewOptionalAuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			if _, err := UserFromContext(r.Context()); err == nil {
				t.Error("未認証リクエストでコンテキストにユーザーが存在する")
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if !called {
			t.Error("ハンドラーが呼ばれていない")
		}
	})

	t.Run("認証済みならユーザーを注入する", func(t *testing.T) {
		resolver := &mockResolver{
			resolveOptionalFn: func(ctx context.Context, credential string) (*model.User, error) {
				return &model.User{ID: "user_opt"}, nil
			},
		}

		handler := NewOptionalAuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r.Context())
			if err != nil || user.ID != "user_opt" {
				t.Errorf("user = %+v, err = %v", user, err)
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	})

	t.Run("インフラ障害はエラーレスポンス", func(t *testing.T) {
		resolver := &mockResolver{
			resolveOptionalFn: func(ctx context.Context, credential string) (*model.User, error) {
				return nil, fmt.Errorf("%w: db down", model.ErrStoreFailure)
			},
		}

		handler := NewOptionalAuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("インフラ障害でハンドラーが呼ばれた")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})
}

func TestUserFromContext_Missing(t *testing.T) {
	if _, err := UserFromContext(context.Background()); err == nil {
		t.Error("空のコンテキストでエラーが返らなかった")
	}
}
