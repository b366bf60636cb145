// Package auth はパスワード認証、Googleログイン、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/slotswap/internal/model"
	"github.com/hitoshi/slotswap/internal/repository"
	"github.com/hitoshi/slotswap/internal/security"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 8
	// bcryptは72バイトを超える入力を扱えない
	maxPasswordBytes = 72
	maxNameLength    = 100
)

// ErrGoogleDisabled はGoogleログインが設定されていない場合のエラー。
var ErrGoogleDisabled = errors.New("google login is not configured")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int
}

// SignupInput はサインアップの入力。
type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	sanitizer   security.TextSanitizer
	config      ServiceConfig
	// 存在しないメールアドレスでも比較時間を揃えるためのハッシュ
	dummyHash []byte
}

// NewService はServiceを生成する。oauthがnilの場合はGoogleログインを無効にする。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	sanitizer security.TextSanitizer,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("slotswap-dummy-password"), config.BcryptCost)
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		sanitizer:   sanitizer,
		config:      config,
		dummyHash:   dummy,
	}
}

// GoogleEnabled はGoogleログインが利用可能かどうかを返す。
func (s *Service) GoogleEnabled() bool {
	return s.oauth != nil
}

// Signup はメールアドレスとパスワードでユーザーを作成し、セッションを発行する。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.User, *model.Session, error) {
	name := s.sanitizer.Sanitize(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return nil, nil, model.NewValidationError("Fields are missing")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, nil, model.NewValidationError(fmt.Sprintf("Name must be at most %d characters", maxNameLength))
	}
	if !strings.Contains(email, "@") {
		return nil, nil, model.NewValidationError("Invalid email address")
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLength {
		return nil, nil, model.NewValidationError(fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, nil, model.NewValidationError("Password is too long")
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, nil, model.NewEmailTakenError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.config.BcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// 同時サインアップの競合はリポジトリがEMAIL_TAKENとして返す
	if err := s.userRepo.Create(ctx, user); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, nil, apiErr
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("new user signed up", slog.String("user_id", user.ID))
	return user, session, nil
}

// Login はメールアドレスとパスワードを検証し、セッションを発行する。
// 失敗理由は区別せずINVALID_CREDENTIALSを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, *model.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil, model.NewValidationError("Fields are missing")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	hash := s.dummyHash
	if user != nil && user.PasswordHash != "" {
		hash = []byte(user.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || user == nil || user.PasswordHash == "" {
		slog.Warn("login failed", slog.String("reason", "invalid credentials"))
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID), slog.String("provider", "password"))
	return user, session, nil
}

// GetGoogleLoginURL はGoogleの認証URLを生成する。
func (s *Service) GetGoogleLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrGoogleDisabled
	}
	return s.oauth.GetLoginURL(state), nil
}

// LoginWithGoogle は認可コードを交換してユーザーを特定し、セッションを発行する。
// 未登録の場合はユーザーを作成し、同じメールアドレスのユーザーがいればidentityを紐付ける。
func (s *Service) LoginWithGoogle(ctx context.Context, code string) (*model.User, *model.Session, error) {
	if s.oauth == nil {
		return nil, nil, ErrGoogleDisabled
	}
	if code == "" {
		return nil, nil, model.NewValidationError("Fields are missing")
	}

	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.resolveOAuthUser(ctx, info)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID), slog.String("provider", info.Provider))
	return user, session, nil
}

func (s *Service) resolveOAuthUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		user, err := s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, model.NewUserNotFoundError()
		}
		return user, nil
	}

	email := normalizeEmail(info.Email)
	now := time.Now().UTC()
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		newIdentity.UserID = existing.ID
		if err := s.identRepo.Create(ctx, newIdentity); err != nil {
			return nil, fmt.Errorf("failed to link identity: %w", err)
		}
		slog.Info("identity linked to existing user",
			slog.String("user_id", existing.ID),
			slog.String("provider", info.Provider),
		)
		return existing, nil
	}

	name := s.sanitizer.Sanitize(info.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity.UserID = user.ID
	if err := s.userRepo.CreateWithIdentity(ctx, user, newIdentity); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created", slog.String("user_id", user.ID), slog.String("provider", info.Provider))
	return user, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// GetUser は指定IDのユーザーを取得する。
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now().UTC()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// GenerateToken は32バイトの暗号的に安全なランダム値を16進文字列で返す。
// セッションIDとOAuthのstateに使う。
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
