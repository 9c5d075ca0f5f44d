// Package auth implements the authentication pipeline: credential
// verification, the session and token lifecycle, and the password state
// machines. It is transport-agnostic; the API layer adapts it to HTTP.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clavis-id/clavis/internal/apperr"
	"github.com/clavis-id/clavis/internal/audit"
	"github.com/clavis-id/clavis/internal/authz"
	"github.com/clavis-id/clavis/internal/notify"
	"github.com/clavis-id/clavis/internal/ratelimit"
)

// refreshSecretBytes is the entropy of the opaque rotation secret carried
// inside refresh tokens and hashed at rest.
const refreshSecretBytes = 32

// errGenericCredentials is the single authentication failure surfaced on
// the login path. Unknown email, inactive account, and wrong password are
// indistinguishable to the caller.
func errGenericCredentials() error {
	return apperr.E(apperr.KindAuthentication, "invalid_credentials", "invalid email or password")
}

// Config carries the orchestrator's tunables, resolved at boot.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
}

// Service drives the login, refresh, logout, password-change, and
// password-reset state machines. It is stateless across calls and safe for
// concurrent use; all durable state lives behind the store interfaces.
type Service struct {
	cfg      Config
	users    UserStore
	sessions SessionStore
	resets   ResetTokenStore
	hasher   PasswordHasher
	gate     *HashGate
	tokens   TokenProvider
	resolver *authz.Resolver
	limiter  ratelimit.Limiter
	mfa      *MFAService
	journal  audit.Recorder
	events   notify.Publisher
	logger   *slog.Logger
	now      func() time.Time

	// dummyHash absorbs the verification cost for unknown emails so the
	// response time does not betray whether an account exists.
	dummyHash string
}

func NewService(
	cfg Config,
	users UserStore,
	sessions SessionStore,
	resets ResetTokenStore,
	hasher PasswordHasher,
	gate *HashGate,
	tokens TokenProvider,
	resolver *authz.Resolver,
	limiter ratelimit.Limiter,
	mfa *MFAService,
	journal audit.Recorder,
	events notify.Publisher,
	logger *slog.Logger,
) (*Service, error) {
	dummySecret, err := GenerateSecureToken(24)
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(dummySecret)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		users:     users,
		sessions:  sessions,
		resets:    resets,
		hasher:    hasher,
		gate:      gate,
		tokens:    tokens,
		resolver:  resolver,
		limiter:   limiter,
		mfa:       mfa,
		journal:   journal,
		events:    events,
		logger:    logger,
		now:       time.Now,
		dummyHash: dummyHash,
	}, nil
}

// RequestMeta identifies the calling device for sessions and audit.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// LoginInput are the credentials for the first login leg.
type LoginInput struct {
	Email    string
	Password string
	Meta     RequestMeta
}

// LoginResult carries the minted pair, or the MFA challenge when the
// account requires a second leg.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	MFARequired  bool
	PreAuthToken string
	User         *User
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) verifyPassword(ctx context.Context, password, encoded string) (Verification, error) {
	var v Verification
	err := s.gate.Do(ctx, func() error {
		var inner error
		v, inner = s.hasher.Verify(password, encoded)
		return inner
	})
	return v, err
}

func (s *Service) hashPassword(ctx context.Context, password string) (string, error) {
	var encoded string
	err := s.gate.Do(ctx, func() error {
		var inner error
		encoded, inner = s.hasher.Hash(password)
		return inner
	})
	return encoded, err
}

// Login runs the password leg of the login state machine.
func (s *Service) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	email := normalizeEmail(input.Email)

	if !s.limiter.Admit(ctx, "login:"+email) {
		s.journal.Record(ctx, audit.Event{
			Action:       audit.ActionLoginBlocked,
			ResourceType: "user",
			ResourceID:   email,
			IPAddress:    input.Meta.IP,
			UserAgent:    input.Meta.UserAgent,
			ErrorMessage: "rate limit exceeded",
		})
		return nil, apperr.E(apperr.KindRateLimited, "login_rate_limited", "too many login attempts")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Burn the same hashing cost as the known-email path.
			_, _ = s.verifyPassword(ctx, input.Password, s.dummyHash)
			s.auditLoginFail(ctx, nil, email, "unknown", input.Meta)
			return nil, errGenericCredentials()
		}
		return nil, apperr.Wrap(apperr.KindUpstream, "user_store", "user lookup failed", err)
	}

	if !user.Active {
		s.auditLoginFail(ctx, &user.ID, email, "inactive", input.Meta)
		return nil, errGenericCredentials()
	}

	verification, err := s.verifyPassword(ctx, input.Password, user.PasswordHash)
	if err != nil {
		// Unknown algorithm tags and floor violations land here. They are
		// operator problems; the caller still sees the generic failure.
		s.logger.Error("password_verify_failed", "user_id", user.ID, "error", err)
		s.auditLoginFail(ctx, &user.ID, email, "verify-error", input.Meta)
		return nil, errGenericCredentials()
	}
	if !verification.Match {
		s.auditLoginFail(ctx, &user.ID, email, "bad-password", input.Meta)
		return nil, errGenericCredentials()
	}

	if verification.NeedsUpgrade {
		s.upgradeHash(ctx, user, input.Password)
	}

	if user.MFAEnabled {
		preAuth, err := s.tokens.MintPreAuth(user.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "token_mint", "pre-auth mint failed", err)
		}
		s.journal.Record(ctx, audit.Event{
			ActorID:      &user.ID,
			Action:       audit.ActionLoginMFAChallenge,
			ResourceType: "user",
			ResourceID:   user.ID.String(),
			IPAddress:    input.Meta.IP,
			UserAgent:    input.Meta.UserAgent,
			Success:      true,
		})
		return &LoginResult{MFARequired: true, PreAuthToken: preAuth, User: user}, nil
	}

	return s.completeLogin(ctx, user, input.Meta, false, "password")
}

// upgradeHash re-hashes the just-verified plaintext with the primary
// algorithm. The swap is guarded on the old hash so a concurrent password
// change is never overwritten by a stale upgrade.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hashPassword(ctx, password)
	if err != nil {
		s.logger.Error("hash_upgrade_failed", "user_id", user.ID, "error", err)
		return
	}
	swapped, err := s.users.UpdatePasswordHashIf(ctx, user.ID, user.PasswordHash, newHash)
	if err != nil {
		s.logger.Error("hash_upgrade_persist_failed", "user_id", user.ID, "error", err)
		return
	}
	if swapped {
		user.PasswordHash = newHash
	}
}

// completeLogin creates the session and mints the token pair. Shared by
// the password leg, the MFA leg, and registration.
func (s *Service) completeLogin(ctx context.Context, user *User, meta RequestMeta, mfaPresent bool, method string) (*LoginResult, error) {
	secret, err := GenerateSecureToken(refreshSecretBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "entropy", "secret generation failed", err)
	}

	now := s.now()
	session := &Session{
		ID:               uuid.New(),
		UserID:           user.ID,
		RefreshTokenHash: HashToken(secret),
		UserAgent:        meta.UserAgent,
		IPAddress:        meta.IP,
		ExpiresAt:        now.Add(s.cfg.RefreshTTL),
		CreatedAt:        now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "session_store", "session create failed", err)
	}

	snapshot, err := s.resolver.Resolve(ctx, user.ID, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "resolver", "principal resolution failed", err)
	}

	access, err := s.tokens.MintAccess(user.ID, session.ID, nil, snapshot.Roles, snapshot.Permissions, mfaPresent)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "token_mint", "access mint failed", err)
	}
	refresh, err := s.tokens.MintRefresh(user.ID, session.ID, secret, mfaPresent)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "token_mint", "refresh mint failed", err)
	}

	s.journal.Record(ctx, audit.Event{
		ActorID:      &user.ID,
		SessionID:    &session.ID,
		Action:       audit.ActionLoginSuccess,
		ResourceType: "session",
		ResourceID:   session.ID.String(),
		Details:      "method=" + method,
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		Success:      true,
	})

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		User:         user,
	}, nil
}

func (s *Service) auditLoginFail(ctx context.Context, userID *uuid.UUID, email, reason string, meta RequestMeta) {
	s.journal.Record(ctx, audit.Event{
		ActorID:      userID,
		Action:       audit.ActionLoginFail,
		ResourceType: "user",
		ResourceID:   email,
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		ErrorMessage: reason,
	})
}

// VerifyLoginMFA completes login for MFA-enabled accounts.
func (s *Service) VerifyLoginMFA(ctx context.Context, preAuthToken, code string, meta RequestMeta) (*LoginResult, error) {
	claims, err := s.tokens.VerifyPreAuth(preAuthToken)
	if err != nil {
		return nil, errGenericCredentials()
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, errGenericCredentials()
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil || !user.Active {
		return nil, errGenericCredentials()
	}
	if !user.MFAEnabled || user.MFASecret == "" {
		return nil, errGenericCredentials()
	}
	if !s.mfa.ValidateCode(code, user.MFASecret) {
		s.auditLoginFail(ctx, &user.ID, user.Email, "bad-mfa-code", meta)
		return nil, apperr.E(apperr.KindAuthentication, "invalid_mfa_code", "invalid verification code")
	}

	return s.completeLogin(ctx, user, meta, true, "mfa_totp")
}

// Refresh rotates the session and mints a new pair. The presented refresh
// token dies with the rotation: its secret no longer matches the stored
// hash.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*LoginResult, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		s.auditRefreshFail(ctx, nil, string(ReasonOf(err)), meta)
		return nil, apperr.E(apperr.KindAuthentication, string(ReasonOf(err)), "invalid refresh token")
	}
	userID, err := claims.UserID()
	if err != nil {
		s.auditRefreshFail(ctx, nil, "malformed", meta)
		return nil, apperr.E(apperr.KindAuthentication, "malformed", "invalid refresh token")
	}

	if !s.limiter.Admit(ctx, "refresh:"+userID.String()) {
		s.auditRefreshFail(ctx, &userID, "rate-limited", meta)
		return nil, apperr.E(apperr.KindRateLimited, "refresh_rate_limited", "too many refresh attempts")
	}

	// The lookup key is the hash of the rotation secret inside the token;
	// after a rotation the previous token's hash resolves to nothing.
	presentedHash := HashToken(claims.ID)
	session, err := s.sessions.FindByRefreshHash(ctx, presentedHash)
	if err != nil {
		reason := "no-session"
		if byID, idErr := s.sessions.FindByID(ctx, claims.SessionID); idErr == nil &&
			!SecureCompare(presentedHash, byID.RefreshTokenHash) {
			// The session is alive under a newer secret: this credential
			// was superseded and is being replayed.
			reason = "stale-refresh"
		}
		s.auditRefreshFail(ctx, &userID, reason, meta)
		return nil, apperr.E(apperr.KindAuthentication, reason, "refresh token not accepted")
	}
	if session.ID != claims.SessionID || !session.Live(s.now()) {
		s.auditRefreshFail(ctx, &userID, "no-session", meta)
		return nil, apperr.E(apperr.KindAuthentication, "no-session", "session not found or expired")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil || !user.Active {
		s.auditRefreshFail(ctx, &userID, "no-user", meta)
		return nil, apperr.E(apperr.KindAuthentication, "no-user", "account unavailable")
	}

	newSecret, err := GenerateSecureToken(refreshSecretBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "entropy", "secret generation failed", err)
	}
	err = s.sessions.Rotate(ctx, session.ID, session.RefreshTokenHash, HashToken(newSecret), s.now().Add(s.cfg.RefreshTTL))
	if err != nil {
		// The CAS missed: somebody rotated first. The presented credential
		// is stale either way.
		s.auditRefreshFail(ctx, &userID, "rotation-conflict", meta)
		return nil, apperr.E(apperr.KindAuthentication, "stale-refresh", "refresh token superseded")
	}

	snapshot, err := s.resolver.Resolve(ctx, user.ID, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "resolver", "principal resolution failed", err)
	}

	access, err := s.tokens.MintAccess(user.ID, session.ID, nil, snapshot.Roles, snapshot.Permissions, claims.MFAPresent)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "token_mint", "access mint failed", err)
	}
	newRefresh, err := s.tokens.MintRefresh(user.ID, session.ID, newSecret, claims.MFAPresent)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "token_mint", "refresh mint failed", err)
	}

	s.journal.Record(ctx, audit.Event{
		ActorID:      &user.ID,
		SessionID:    &session.ID,
		Action:       audit.ActionRefreshSuccess,
		ResourceType: "session",
		ResourceID:   session.ID.String(),
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		Success:      true,
	})

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: newRefresh,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		User:         user,
	}, nil
}

func (s *Service) auditRefreshFail(ctx context.Context, userID *uuid.UUID, reason string, meta RequestMeta) {
	s.journal.Record(ctx, audit.Event{
		ActorID:      userID,
		Action:       audit.ActionRefreshFail,
		ResourceType: "session",
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		ErrorMessage: reason,
	})
}

// Logout revokes the session named by an access or refresh token. The
// signature must verify; expiry is forgiven so a client can always log out.
func (s *Service) Logout(ctx context.Context, token string, meta RequestMeta) error {
	sessionID, err := s.tokens.SessionFromExpired(token)
	if err != nil {
		return apperr.E(apperr.KindValidation, "bad_token", "unrecognized credential")
	}

	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "session_store", "revoke failed", err)
	}

	s.journal.Record(ctx, audit.Event{
		SessionID:    &sessionID,
		Action:       audit.ActionLogout,
		ResourceType: "session",
		ResourceID:   sessionID.String(),
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		Success:      true,
	})
	return nil
}

// RegisterInput is the self-registration payload.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Meta     RequestMeta
}

// Register creates an account, issues the email-verification token, and
// returns a minted pair. The account stays inactive until verification or
// administrative activation; further logins are refused until then.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*LoginResult, error) {
	if !s.limiter.Admit(ctx, "register:"+input.Meta.IP) {
		return nil, apperr.E(apperr.KindRateLimited, "register_rate_limited", "too many registrations")
	}

	if err := CheckPasswordPolicy(input.Password); err != nil {
		return nil, err
	}

	hash, err := s.hashPassword(ctx, input.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "hasher", "hashing failed", err)
	}

	verifyToken, err := GenerateSecureToken(refreshSecretBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "entropy", "token generation failed", err)
	}

	now := s.now()
	user := &User{
		ID:                    uuid.New(),
		Name:                  input.Name,
		Email:                 normalizeEmail(input.Email),
		PasswordHash:          hash,
		Active:                false,
		VerificationTokenHash: HashToken(verifyToken),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperr.E(apperr.KindConflict, "email_taken", "email already registered")
		}
		return nil, apperr.Wrap(apperr.KindUpstream, "user_store", "user create failed", err)
	}

	s.events.Publish(ctx, notify.EventUserRegistered, notify.UserRegistered{
		UserID:            user.ID,
		Email:             user.Email,
		VerificationToken: verifyToken,
	})
	s.journal.Record(ctx, audit.Event{
		ActorID:      &user.ID,
		Action:       audit.ActionRegister,
		ResourceType: "user",
		ResourceID:   user.ID.String(),
		IPAddress:    input.Meta.IP,
		UserAgent:    input.Meta.UserAgent,
		Success:      true,
	})

	return s.completeLogin(ctx, user, input.Meta, false, "registration")
}

// VerifyEmail consumes the verification token and activates the account.
func (s *Service) VerifyEmail(ctx context.Context, userID uuid.UUID, token string) (time.Time, error) {
	verifiedAt, err := s.users.ConsumeVerificationToken(ctx, userID, HashToken(token))
	if err != nil {
		return time.Time{}, apperr.E(apperr.KindValidation, "invalid_token", "invalid or expired verification token")
	}

	s.journal.Record(ctx, audit.Event{
		ActorID:      &userID,
		Action:       audit.ActionEmailVerified,
		ResourceType: "user",
		ResourceID:   userID.String(),
		Success:      true,
	})
	return verifiedAt, nil
}

// ChangePassword verifies the current password, installs the new hash, and
// revokes every session of the user in the same transaction.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string, meta RequestMeta) error {
	if err := CheckPasswordPolicy(newPassword); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return apperr.E(apperr.KindAuthentication, "invalid_credentials", "invalid credentials")
	}

	verification, err := s.verifyPassword(ctx, currentPassword, user.PasswordHash)
	if err != nil || !verification.Match {
		return apperr.E(apperr.KindAuthentication, "invalid_credentials", "current password incorrect")
	}

	if currentPassword == newPassword {
		return apperr.E(apperr.KindValidation, "password_reuse", "new password must differ from the current one")
	}

	hash, err := s.hashPassword(ctx, newPassword)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "hasher", "hashing failed", err)
	}

	revoked, err := s.users.SetPasswordHash(ctx, userID, hash)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "user_store", "password update failed", err)
	}

	s.events.Publish(ctx, notify.EventSessionsRevoked, notify.SessionsRevoked{UserID: userID, Count: revoked})
	s.journal.Record(ctx, audit.Event{
		ActorID:      &userID,
		Action:       audit.ActionPasswordChanged,
		ResourceType: "user",
		ResourceID:   userID.String(),
		Details:      "all sessions revoked",
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		Success:      true,
	})
	return nil
}

// RequestPasswordReset issues a single-use recovery token and emits the
// ResetRequested event. The caller always sees success; existence of the
// account is never disclosed.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) error {
	email = normalizeEmail(email)

	if !s.limiter.Admit(ctx, "reset:"+email) {
		s.journal.Record(ctx, audit.Event{
			Action:       audit.ActionPasswordResetRequested,
			ResourceType: "user",
			ResourceID:   email,
			IPAddress:    meta.IP,
			UserAgent:    meta.UserAgent,
			ErrorMessage: "rate limit exceeded",
		})
		return nil
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil || !user.Active {
		return nil
	}

	token, err := GenerateSecureToken(refreshSecretBytes)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "entropy", "token generation failed", err)
	}
	if err := s.resets.Issue(ctx, user.ID, HashToken(token), s.now().Add(s.cfg.ResetTTL)); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "reset_store", "reset issue failed", err)
	}

	s.events.Publish(ctx, notify.EventResetRequested, notify.ResetRequested{
		UserID:     user.ID,
		Email:      user.Email,
		ResetToken: token,
	})
	s.journal.Record(ctx, audit.Event{
		ActorID:      &user.ID,
		Action:       audit.ActionPasswordResetRequested,
		ResourceType: "user",
		ResourceID:   user.ID.String(),
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		Success:      true,
	})
	return nil
}

// ConfirmPasswordReset consumes the token, installs the new password, and
// revokes every session of the user.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string, meta RequestMeta) error {
	if err := CheckPasswordPolicy(newPassword); err != nil {
		return err
	}

	userID, err := s.resets.Consume(ctx, HashToken(token), s.now())
	if err != nil {
		return apperr.E(apperr.KindValidation, "invalid_reset_token", "invalid, expired, or already used token")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "user_store", "user lookup failed", err)
	}

	verification, err := s.verifyPassword(ctx, newPassword, user.PasswordHash)
	if err == nil && verification.Match {
		return apperr.E(apperr.KindValidation, "password_reuse", "new password must differ from the current one")
	}

	hash, err := s.hashPassword(ctx, newPassword)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "hasher", "hashing failed", err)
	}

	revoked, err := s.users.SetPasswordHash(ctx, userID, hash)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "user_store", "password update failed", err)
	}

	s.events.Publish(ctx, notify.EventSessionsRevoked, notify.SessionsRevoked{UserID: userID, Count: revoked})
	s.journal.Record(ctx, audit.Event{
		ActorID:      &userID,
		Action:       audit.ActionPasswordReset,
		ResourceType: "user",
		ResourceID:   userID.String(),
		Details:      "all sessions revoked",
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		Success:      true,
	})
	return nil
}

// ValidateAccess verifies an access token and returns its claims. Pure
// token inspection: within the TTL the claim set is authoritative and no
// session lookup happens.
func (s *Service) ValidateAccess(token string) (*AccessClaims, error) {
	return s.tokens.VerifyAccess(token)
}

// SwitchTenant mints a tenant-scoped access token for the same session.
// The principal must hold at least one assignment in the target tenant.
func (s *Service) SwitchTenant(ctx context.Context, claims *AccessClaims, tenantID uuid.UUID, meta RequestMeta) (string, int64, error) {
	userID, err := claims.UserID()
	if err != nil {
		return "", 0, apperr.E(apperr.KindAuthentication, "malformed", "invalid subject")
	}

	snapshot, err := s.resolver.Resolve(ctx, userID, &tenantID)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.KindUpstream, "resolver", "principal resolution failed", err)
	}
	if !snapshot.Active {
		s.journal.Record(ctx, audit.Event{
			ActorID:      &userID,
			SessionID:    &claims.SessionID,
			TenantID:     &tenantID,
			Action:       audit.ActionTenantSwitch,
			ResourceType: "tenant",
			ResourceID:   tenantID.String(),
			IPAddress:    meta.IP,
			UserAgent:    meta.UserAgent,
			ErrorMessage: "no assignment in tenant",
		})
		return "", 0, apperr.E(apperr.KindAuthorization, "no_tenant_membership", "no role in the requested tenant")
	}

	access, err := s.tokens.MintAccess(userID, claims.SessionID, &tenantID, snapshot.Roles, snapshot.Permissions, claims.MFAPresent)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.KindInternal, "token_mint", "access mint failed", err)
	}

	s.journal.Record(ctx, audit.Event{
		ActorID:      &userID,
		SessionID:    &claims.SessionID,
		TenantID:     &tenantID,
		Action:       audit.ActionTenantSwitch,
		ResourceType: "tenant",
		ResourceID:   tenantID.String(),
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		Success:      true,
	})
	return access, int64(s.tokens.AccessTTL().Seconds()), nil
}

// Sessions lists the caller's live sessions.
func (s *Service) Sessions(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	all, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "session_store", "session list failed", err)
	}
	now := s.now()
	live := all[:0]
	for _, session := range all {
		if session.Live(now) {
			live = append(live, session)
		}
	}
	return live, nil
}

// RevokeSession terminates one of the caller's own sessions.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID, meta RequestMeta) error {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil || session.UserID != userID {
		return apperr.E(apperr.KindNotFound, "session_not_found", "session not found")
	}
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "session_store", "revoke failed", err)
	}

	s.journal.Record(ctx, audit.Event{
		ActorID:      &userID,
		SessionID:    &sessionID,
		Action:       audit.ActionSessionRevoked,
		ResourceType: "session",
		ResourceID:   sessionID.String(),
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		Success:      true,
	})
	return nil
}

// SetupMFA generates a TOTP secret for the account. Nothing is persisted
// until activation proves the authenticator works.
func (s *Service) SetupMFA(ctx context.Context, userID uuid.UUID) (secret, url string, err error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", "", apperr.E(apperr.KindNotFound, "user_not_found", "user not found")
	}
	key, err := s.mfa.GenerateSecret(user.Email)
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindInternal, "mfa", "secret generation failed", err)
	}
	return key.Secret(), key.URL(), nil
}

// ActivateMFA persists the secret once the user proves possession with a
// valid code.
func (s *Service) ActivateMFA(ctx context.Context, userID uuid.UUID, secret, code string) error {
	if !s.mfa.ValidateCode(code, secret) {
		return apperr.E(apperr.KindValidation, "invalid_mfa_code", "verification code does not match")
	}
	if err := s.users.SetMFA(ctx, userID, secret, true); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "user_store", "mfa update failed", err)
	}

	s.journal.Record(ctx, audit.Event{
		ActorID:      &userID,
		Action:       audit.ActionMFAEnabled,
		ResourceType: "user",
		ResourceID:   userID.String(),
		Success:      true,
	})
	return nil
}
