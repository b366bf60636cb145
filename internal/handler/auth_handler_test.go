package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/slotswap/internal/auth"
	"github.com/hitoshi/slotswap/internal/middleware"
	"github.com/hitoshi/slotswap/internal/model"
)

var testAuthConfig = AuthHandlerConfig{SessionMaxAge: 3600, CookieSecure: true}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuthHandler_Signup_SetsCookieAndReturnsToken(t *testing.T) {
	var got auth.SignupInput
	svc := &mockAuthService{
		signupFn: func(_ context.Context, in auth.SignupInput) (*model.User, *model.Session, error) {
			got = in
			return &model.User{ID: "u1", Name: in.Name, Email: in.Email}, &model.Session{ID: "tok-1", UserID: "u1"}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup",
		jsonBody(`{"name":"Alice","email":"alice@example.com","password":"password1"}`))
	w := httptest.NewRecorder()
	h.Signup(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if got.Name != "Alice" || got.Password != "password1" {
		t.Errorf("input = %+v", got)
	}
	c := findCookie(w, middleware.SessionCookieName)
	if c == nil || c.Value != "tok-1" || !c.HttpOnly || !c.Secure || c.MaxAge != 3600 {
		t.Errorf("session cookie = %+v", c)
	}

	var data authResponse
	env := decodeEnvelope(t, w, &data)
	if env.Status != 201 || data.Token != "tok-1" || data.User.Email != "alice@example.com" {
		t.Errorf("env = %+v, data = %+v", env, data)
	}
}

func TestAuthHandler_Signup_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"不正なJSON", `{`, nil, http.StatusBadRequest, model.ErrCodeValidation},
		{"空ボディ", ``, nil, http.StatusBadRequest, model.ErrCodeValidation},
		{"重複メール", `{}`, model.NewEmailTakenError(), http.StatusConflict, model.ErrCodeEmailTaken},
		{"DBエラー", `{}`, errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				signupFn: func(context.Context, auth.SignupInput) (*model.User, *model.Session, error) {
					return nil, nil, tt.err
				},
			}
			w := httptest.NewRecorder()
			NewAuthHandler(svc, testAuthConfig).Signup(w, httptest.NewRequest(http.MethodPost, "/", jsonBody(tt.body)))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if env := decodeEnvelope(t, w, nil); env.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", env.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(context.Context, string, string) (*model.User, *model.Session, error) {
			return nil, nil, model.NewInvalidCredentialsError()
		},
	}
	w := httptest.NewRecorder()
	NewAuthHandler(svc, testAuthConfig).Login(w, httptest.NewRequest(http.MethodPost, "/",
		jsonBody(`{"email":"a@example.com","password":"nope"}`)))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if findCookie(w, middleware.SessionCookieName) != nil {
		t.Error("no cookie on failed login")
	}
}

func TestAuthHandler_GoogleURL(t *testing.T) {
	t.Run("有効", func(t *testing.T) {
		svc := &mockAuthService{googleURLFn: func(state string) (string, error) {
			return "https://accounts.example.com/auth?state=" + state, nil
		}}
		w := httptest.NewRecorder()
		NewAuthHandler(svc, testAuthConfig).GoogleURL(w, httptest.NewRequest(http.MethodGet, "/", nil))

		state := findCookie(w, oauthStateCookie)
		if state == nil || len(state.Value) != 64 {
			t.Fatalf("state cookie = %+v", state)
		}
		var data map[string]string
		decodeEnvelope(t, w, &data)
		if !strings.HasSuffix(data["url"], "state="+state.Value) {
			t.Errorf("url = %q", data["url"])
		}
	})

	t.Run("未設定", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewAuthHandler(&mockAuthService{}, testAuthConfig).GoogleURL(w, httptest.NewRequest(http.MethodGet, "/", nil))

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
		if env := decodeEnvelope(t, w, nil); env.Code != "GOOGLE_LOGIN_DISABLED" {
			t.Errorf("code = %q", env.Code)
		}
	})
}

func TestAuthHandler_GoogleLogin_StateCheck(t *testing.T) {
	called := false
	svc := &mockAuthService{loginWithGoogleFn: func(_ context.Context, code string) (*model.User, *model.Session, error) {
		called = true
		return &model.User{ID: "u1"}, &model.Session{ID: "tok-g"}, nil
	}}
	h := NewAuthHandler(svc, testAuthConfig)

	// stateが一致しない
	req := httptest.NewRequest(http.MethodPost, "/", jsonBody(`{"code":"c","state":"other"}`))
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "expected"})
	w := httptest.NewRecorder()
	h.GoogleLogin(w, req)
	if w.Code != http.StatusBadRequest || called {
		t.Fatalf("status = %d, called = %v", w.Code, called)
	}

	// stateが一致する
	req = httptest.NewRequest(http.MethodPost, "/", jsonBody(`{"code":"c","state":"expected"}`))
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "expected"})
	w = httptest.NewRecorder()
	h.GoogleLogin(w, req)
	if w.Code != http.StatusOK || !called {
		t.Fatalf("status = %d, called = %v", w.Code, called)
	}
	if c := findCookie(w, oauthStateCookie); c == nil || c.MaxAge >= 0 {
		t.Errorf("state cookie should be cleared: %+v", c)
	}
	if c := findCookie(w, middleware.SessionCookieName); c == nil || c.Value != "tok-g" {
		t.Errorf("session cookie = %+v", c)
	}
}

func TestAuthHandler_Logout_DeletesBearerSession(t *testing.T) {
	var deleted string
	svc := &mockAuthService{logoutFn: func(_ context.Context, id string) error {
		deleted = id
		return errors.New("already gone")
	}}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer tok-9")
	w := httptest.NewRecorder()
	NewAuthHandler(svc, testAuthConfig).Logout(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if deleted != "tok-9" {
		t.Errorf("deleted = %q", deleted)
	}
	if c := findCookie(w, middleware.SessionCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared: %+v", c)
	}
}

func TestAuthHandler_Me(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig)

	w := httptest.NewRecorder()
	h.Me(w, withUser(httptest.NewRequest(http.MethodGet, "/", nil), "u1"))
	var data userResponse
	decodeEnvelope(t, w, &data)
	if w.Code != http.StatusOK || data.ID != "u1" || data.Email != "u1@example.com" {
		t.Errorf("status = %d, data = %+v", w.Code, data)
	}

	w = httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
