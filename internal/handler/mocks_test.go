package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/slotswap/internal/auth"
	"github.com/hitoshi/slotswap/internal/middleware"
	"github.com/hitoshi/slotswap/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	signupFn          func(ctx context.Context, in auth.SignupInput) (*model.User, *model.Session, error)
	loginFn           func(ctx context.Context, email, password string) (*model.User, *model.Session, error)
	googleURLFn       func(state string) (string, error)
	loginWithGoogleFn func(ctx context.Context, code string) (*model.User, *model.Session, error)
	logoutFn          func(ctx context.Context, sessionID string) error
	getUserFn         func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) Signup(ctx context.Context, in auth.SignupInput) (*model.User, *model.Session, error) {
	return m.signupFn(ctx, in)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.User, *model.Session, error) {
	return m.loginFn(ctx, email, password)
}

func (m *mockAuthService) GetGoogleLoginURL(state string) (string, error) {
	if m.googleURLFn != nil {
		return m.googleURLFn(state)
	}
	return "", auth.ErrGoogleDisabled
}

func (m *mockAuthService) LoginWithGoogle(ctx context.Context, code string) (*model.User, *model.Session, error) {
	if m.loginWithGoogleFn != nil {
		return m.loginWithGoogleFn(ctx, code)
	}
	return nil, nil, auth.ErrGoogleDisabled
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, userID)
	}
	return &model.User{ID: userID, Name: "User " + userID, Email: userID + "@example.com"}, nil
}

// mockSessionFinder はトークン→ユーザーIDの固定表でセッションを返す。
type mockSessionFinder struct {
	tokens map[string]string
}

func (m *mockSessionFinder) FindByID(_ context.Context, id string) (*model.Session, error) {
	userID, ok := m.tokens[id]
	if !ok {
		return nil, nil
	}
	return &model.Session{ID: id, UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// --- ヘルパー ---

// envelope はレスポンスのエンベロープ。dataは呼び出し側で型を決めて再デコードする。
type envelope struct {
	Status  int             `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("failed to decode data: %v (%s)", err, env.Data)
		}
	}
	return env
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

// withUser はセッションミドルウェアを通過した状態のリクエストを作る。
func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}
