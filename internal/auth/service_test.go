package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/slotswap/internal/model"
	"github.com/hitoshi/slotswap/internal/security"
	"golang.org/x/crypto/bcrypt"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn        func(ctx context.Context, email string) (*model.User, error)
	createFn             func(ctx context.Context, user *model.User) error
	createWithIdentityFn func(ctx context.Context, user *model.User, identity *model.Identity) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	if m.createWithIdentityFn != nil {
		return m.createWithIdentityFn(ctx, user, identity)
	}
	return nil
}

type mockIdentityRepo struct {
	findByProviderFn func(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
	createFn         func(ctx context.Context, identity *model.Identity) error
}

func (m *mockIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	if m.findByProviderFn != nil {
		return m.findByProviderFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

func (m *mockIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	if m.createFn != nil {
		return m.createFn(ctx, identity)
	}
	return nil
}

type mockSessionRepo struct {
	created      []*model.Session
	createFn     func(ctx context.Context, session *model.Session) error
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	m.created = append(m.created, session)
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(_ context.Context, _ string) (*model.Session, error) {
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

type mockOAuthProvider struct {
	info *OAuthUserInfo
	err  error
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(_ context.Context, _ string) (*OAuthUserInfo, error) {
	return m.info, m.err
}

func newTestService(oauth OAuthProvider, users *mockUserRepo, idents *mockIdentityRepo, sessions *mockSessionRepo) *Service {
	return NewService(oauth, users, idents, sessions, security.NewTextSanitizer(), ServiceConfig{
		SessionMaxAge: 3600,
		BcryptCost:    bcrypt.MinCost,
	})
}

func hashPassword(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if !model.HasCode(err, code) {
		t.Fatalf("err = %v, want code %s", err, code)
	}
}

// --- Signup ---

func TestSignup_Success(t *testing.T) {
	var created *model.User
	users := &mockUserRepo{createFn: func(_ context.Context, u *model.User) error {
		created = u
		return nil
	}}
	sessions := &mockSessionRepo{}
	svc := newTestService(nil, users, &mockIdentityRepo{}, sessions)

	user, session, err := svc.Signup(context.Background(), SignupInput{
		Name: "Alice", Email: "  Alice@Example.COM ", Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("Email = %q, want lower-cased", user.Email)
	}
	if created == nil || created.PasswordHash == "correct-horse" {
		t.Fatal("password must be stored hashed")
	}
	if bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("correct-horse")) != nil {
		t.Error("stored hash does not match password")
	}
	if session.UserID != user.ID || len(session.ID) != 64 {
		t.Errorf("session = %+v", session)
	}
	if d := time.Until(session.ExpiresAt); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("session lifetime = %v, want ~1h", d)
	}
}

func TestSignup_Validation(t *testing.T) {
	svc := newTestService(nil, &mockUserRepo{}, &mockIdentityRepo{}, &mockSessionRepo{})

	tests := []struct {
		name string
		in   SignupInput
	}{
		{"名前なし", SignupInput{Email: "a@example.com", Password: "password1"}},
		{"メールなし", SignupInput{Name: "A", Password: "password1"}},
		{"@なしメール", SignupInput{Name: "A", Email: "example.com", Password: "password1"}},
		{"短いパスワード", SignupInput{Name: "A", Email: "a@example.com", Password: "short"}},
		{"長すぎるパスワード", SignupInput{Name: "A", Email: "a@example.com", Password: string(make([]byte, 73))}},
		{"タグのみの名前", SignupInput{Name: "<br>", Email: "a@example.com", Password: "password1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Signup(context.Background(), tt.in)
			assertCode(t, err, model.ErrCodeValidation)
		})
	}
}

func TestSignup_EmailTaken(t *testing.T) {
	users := &mockUserRepo{findByEmailFn: func(_ context.Context, email string) (*model.User, error) {
		return &model.User{ID: "u1", Email: email}, nil
	}}
	svc := newTestService(nil, users, &mockIdentityRepo{}, &mockSessionRepo{})

	_, _, err := svc.Signup(context.Background(), SignupInput{Name: "A", Email: "a@example.com", Password: "password1"})
	assertCode(t, err, model.ErrCodeEmailTaken)
}

func TestSignup_EmailTakenByRace(t *testing.T) {
	users := &mockUserRepo{createFn: func(_ context.Context, _ *model.User) error {
		return model.NewEmailTakenError()
	}}
	svc := newTestService(nil, users, &mockIdentityRepo{}, &mockSessionRepo{})

	_, _, err := svc.Signup(context.Background(), SignupInput{Name: "A", Email: "a@example.com", Password: "password1"})
	assertCode(t, err, model.ErrCodeEmailTaken)
}

// --- Login ---

func TestLogin(t *testing.T) {
	stored := &model.User{ID: "u1", Email: "alice@example.com", PasswordHash: hashPassword(t, "password1")}
	googleOnly := &model.User{ID: "u2", Email: "g@example.com"}
	users := &mockUserRepo{findByEmailFn: func(_ context.Context, email string) (*model.User, error) {
		switch email {
		case stored.Email:
			return stored, nil
		case googleOnly.Email:
			return googleOnly, nil
		}
		return nil, nil
	}}
	sessions := &mockSessionRepo{}
	svc := newTestService(nil, users, &mockIdentityRepo{}, sessions)

	user, session, err := svc.Login(context.Background(), "ALICE@example.com", "password1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != "u1" || session.UserID != "u1" {
		t.Errorf("user = %+v, session = %+v", user, session)
	}

	failures := []struct{ email, password string }{
		{"alice@example.com", "wrong-password"},
		{"nobody@example.com", "password1"},
		{"g@example.com", "password1"},
	}
	for _, f := range failures {
		_, _, err := svc.Login(context.Background(), f.email, f.password)
		assertCode(t, err, model.ErrCodeInvalidCredentials)
	}
	if len(sessions.created) != 1 {
		t.Errorf("sessions created = %d, want 1", len(sessions.created))
	}

	_, _, err = svc.Login(context.Background(), "", "")
	assertCode(t, err, model.ErrCodeValidation)
}

// --- Google ---

func TestGoogle_DisabledWithoutProvider(t *testing.T) {
	svc := newTestService(nil, &mockUserRepo{}, &mockIdentityRepo{}, &mockSessionRepo{})
	if svc.GoogleEnabled() {
		t.Error("GoogleEnabled should be false")
	}
	if _, err := svc.GetGoogleLoginURL("s"); !errors.Is(err, ErrGoogleDisabled) {
		t.Errorf("err = %v, want ErrGoogleDisabled", err)
	}
	if _, _, err := svc.LoginWithGoogle(context.Background(), "code"); !errors.Is(err, ErrGoogleDisabled) {
		t.Errorf("err = %v, want ErrGoogleDisabled", err)
	}
}

func TestLoginWithGoogle_ExistingIdentity(t *testing.T) {
	oauth := &mockOAuthProvider{info: &OAuthUserInfo{Provider: "google", ProviderUserID: "sub-1", Email: "a@example.com"}}
	idents := &mockIdentityRepo{findByProviderFn: func(_ context.Context, p, id string) (*model.Identity, error) {
		return &model.Identity{UserID: "u1", Provider: p, ProviderUserID: id}, nil
	}}
	users := &mockUserRepo{findByIDFn: func(_ context.Context, id string) (*model.User, error) {
		return &model.User{ID: id}, nil
	}}
	svc := newTestService(oauth, users, idents, &mockSessionRepo{})

	user, session, err := svc.LoginWithGoogle(context.Background(), "code")
	if err != nil {
		t.Fatalf("LoginWithGoogle: %v", err)
	}
	if user.ID != "u1" || session.UserID != "u1" {
		t.Errorf("user = %+v", user)
	}
}

func TestLoginWithGoogle_LinksExistingEmail(t *testing.T) {
	oauth := &mockOAuthProvider{info: &OAuthUserInfo{Provider: "google", ProviderUserID: "sub-1", Email: "A@example.com"}}
	var linked *model.Identity
	idents := &mockIdentityRepo{createFn: func(_ context.Context, i *model.Identity) error {
		linked = i
		return nil
	}}
	users := &mockUserRepo{
		findByEmailFn: func(_ context.Context, email string) (*model.User, error) {
			if email == "a@example.com" {
				return &model.User{ID: "u1", Email: email}, nil
			}
			return nil, nil
		},
		createWithIdentityFn: func(_ context.Context, _ *model.User, _ *model.Identity) error {
			t.Error("既存ユーザーがいる場合は新規作成しない")
			return nil
		},
	}
	svc := newTestService(oauth, users, idents, &mockSessionRepo{})

	user, _, err := svc.LoginWithGoogle(context.Background(), "code")
	if err != nil {
		t.Fatalf("LoginWithGoogle: %v", err)
	}
	if user.ID != "u1" || linked == nil || linked.UserID != "u1" || linked.ProviderUserID != "sub-1" {
		t.Errorf("user = %+v, linked = %+v", user, linked)
	}
}

func TestLoginWithGoogle_CreatesNewUser(t *testing.T) {
	oauth := &mockOAuthProvider{info: &OAuthUserInfo{Provider: "google", ProviderUserID: "sub-9", Email: "new@example.com"}}
	var createdUser *model.User
	var createdIdent *model.Identity
	users := &mockUserRepo{createWithIdentityFn: func(_ context.Context, u *model.User, i *model.Identity) error {
		createdUser, createdIdent = u, i
		return nil
	}}
	svc := newTestService(oauth, users, &mockIdentityRepo{}, &mockSessionRepo{})

	user, _, err := svc.LoginWithGoogle(context.Background(), "code")
	if err != nil {
		t.Fatalf("LoginWithGoogle: %v", err)
	}
	if createdUser == nil || createdIdent.UserID != createdUser.ID || user.ID != createdUser.ID {
		t.Fatalf("user = %+v, identity = %+v", createdUser, createdIdent)
	}
	if createdUser.Name != "new" {
		t.Errorf("名前が空の場合はメールのローカル部を使う: %q", createdUser.Name)
	}
	if createdUser.PasswordHash != "" {
		t.Error("Googleユーザーはパスワードを持たない")
	}
}

func TestLoginWithGoogle_ExchangeError(t *testing.T) {
	oauth := &mockOAuthProvider{err: errors.New("invalid_grant")}
	svc := newTestService(oauth, &mockUserRepo{}, &mockIdentityRepo{}, &mockSessionRepo{})

	if _, _, err := svc.LoginWithGoogle(context.Background(), "code"); err == nil {
		t.Fatal("expected error")
	}
}

// --- その他 ---

func TestLogout(t *testing.T) {
	var deleted string
	sessions := &mockSessionRepo{deleteByIDFn: func(_ context.Context, id string) error {
		deleted = id
		return nil
	}}
	svc := newTestService(nil, &mockUserRepo{}, &mockIdentityRepo{}, sessions)

	if err := svc.Logout(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if deleted != "sess-1" {
		t.Errorf("deleted = %q", deleted)
	}
	if err := svc.Logout(context.Background(), ""); err != nil {
		t.Errorf("空のセッションIDはエラーにしない: %v", err)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	svc := newTestService(nil, &mockUserRepo{}, &mockIdentityRepo{}, &mockSessionRepo{})
	_, err := svc.GetUser(context.Background(), "missing")
	assertCode(t, err, model.ErrCodeUserNotFound)
}

func TestGenerateToken_UniqueHex(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, _ := GenerateToken()
	if len(a) != 64 || a == b {
		t.Errorf("tokens = %q, %q", a, b)
	}
}
