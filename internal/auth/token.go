package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the "typ" claim. A verifier never accepts one kind
// where another is required.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
	TokenTypePreAuth = "pre_auth"
)

// VerifyReason classifies why a token was rejected.
type VerifyReason string

const (
	ReasonExpired      VerifyReason = "expired"
	ReasonBadSignature VerifyReason = "bad-signature"
	ReasonMalformed    VerifyReason = "malformed"
	ReasonWrongType    VerifyReason = "wrong-type"
)

// VerifyError is the typed rejection returned by every verify path.
type VerifyError struct {
	Reason VerifyReason
}

func (e *VerifyError) Error() string { return "invalid token: " + string(e.Reason) }

// ReasonOf extracts the rejection reason, or "" for other errors.
func ReasonOf(err error) VerifyReason {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// nbfLeeway is the tolerated clock skew on the not-before check. Expiry is
// enforced with no skew at all.
const nbfLeeway = 30 * time.Second

// preAuthTTL bounds the MFA verification window between the password leg
// and the TOTP leg of login.
const preAuthTTL = 2 * time.Minute

// AccessClaims is the authoritative claim set for a request. The gate
// trusts it within the TTL and does not re-resolve roles per call.
type AccessClaims struct {
	SessionID   uuid.UUID  `json:"sid"`
	TenantID    *uuid.UUID `json:"tid,omitempty"`
	Roles       []string   `json:"roles"`
	Permissions []string   `json:"perms"`
	MFAPresent  bool       `json:"mfa,omitempty"`
	TokenType   string     `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims binds a refresh credential to its session. The ID claim
// carries the opaque rotation secret whose hash the session store keeps;
// a replayed token fails the hash comparison after rotation.
type RefreshClaims struct {
	SessionID  uuid.UUID `json:"sid"`
	MFAPresent bool      `json:"mfa,omitempty"`
	TokenType  string    `json:"typ"`
	jwt.RegisteredClaims
}

// PreAuthClaims is the short-lived credential bridging the password check
// and MFA verification.
type PreAuthClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *AccessClaims) UserID() (uuid.UUID, error)  { return uuid.Parse(c.Subject) }
func (c *RefreshClaims) UserID() (uuid.UUID, error) { return uuid.Parse(c.Subject) }
func (c *PreAuthClaims) UserID() (uuid.UUID, error) { return uuid.Parse(c.Subject) }

// TokenProvider defines the contract for minting and verifying the signed
// bearer credentials.
type TokenProvider interface {
	MintAccess(userID, sessionID uuid.UUID, tenantID *uuid.UUID, roles, permissions []string, mfaPresent bool) (string, error)
	MintRefresh(userID, sessionID uuid.UUID, rotationSecret string, mfaPresent bool) (string, error)
	MintPreAuth(userID uuid.UUID) (string, error)
	VerifyAccess(token string) (*AccessClaims, error)
	VerifyRefresh(token string) (*RefreshClaims, error)
	VerifyPreAuth(token string) (*PreAuthClaims, error)
	// SessionFromExpired extracts the session id from an access or refresh
	// token whose signature checks out, ignoring expiry. Logout accepts
	// expired tokens; forged ones it does not.
	SessionFromExpired(token string) (uuid.UUID, error)
	AccessTTL() time.Duration
}

// HMACProvider implements TokenProvider with HS256 and a process-wide
// symmetric secret.
type HMACProvider struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewHMACProvider builds a provider. The secret length is validated at the
// config boundary; this constructor re-checks as a last line of defense.
func NewHMACProvider(secret string, issuer string, accessTTL, refreshTTL time.Duration) (*HMACProvider, error) {
	if len(secret) < 32 {
		return nil, errors.New("signing secret shorter than 32 bytes")
	}
	return &HMACProvider{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

func (p *HMACProvider) AccessTTL() time.Duration { return p.accessTTL }

func (p *HMACProvider) registered(userID uuid.UUID, ttl time.Duration) jwt.RegisteredClaims {
	now := p.now()
	return jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    p.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (p *HMACProvider) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (p *HMACProvider) MintAccess(userID, sessionID uuid.UUID, tenantID *uuid.UUID, roles, permissions []string, mfaPresent bool) (string, error) {
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}
	return p.sign(AccessClaims{
		SessionID:        sessionID,
		TenantID:         tenantID,
		Roles:            roles,
		Permissions:      permissions,
		MFAPresent:       mfaPresent,
		TokenType:        TokenTypeAccess,
		RegisteredClaims: p.registered(userID, p.accessTTL),
	})
}

func (p *HMACProvider) MintRefresh(userID, sessionID uuid.UUID, rotationSecret string, mfaPresent bool) (string, error) {
	reg := p.registered(userID, p.refreshTTL)
	reg.ID = rotationSecret
	return p.sign(RefreshClaims{
		SessionID:        sessionID,
		MFAPresent:       mfaPresent,
		TokenType:        TokenTypeRefresh,
		RegisteredClaims: reg,
	})
}

func (p *HMACProvider) MintPreAuth(userID uuid.UUID) (string, error) {
	return p.sign(PreAuthClaims{
		TokenType:        TokenTypePreAuth,
		RegisteredClaims: p.registered(userID, preAuthTTL),
	})
}

// parse validates the signature and algorithm only. Expiry and not-before
// are checked by hand afterwards: the library applies a single leeway to
// both, and the clock policy here is asymmetric (30 s on nbf, none on exp).
func (p *HMACProvider) parse(tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return p.secret, nil
	}, jwt.WithoutClaimsValidation(), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return &VerifyError{Reason: ReasonBadSignature}
		}
		return &VerifyError{Reason: ReasonMalformed}
	}
	return nil
}

func (p *HMACProvider) checkClock(reg jwt.RegisteredClaims) error {
	now := p.now()
	if reg.ExpiresAt == nil {
		return &VerifyError{Reason: ReasonMalformed}
	}
	if now.After(reg.ExpiresAt.Time) {
		return &VerifyError{Reason: ReasonExpired}
	}
	if reg.NotBefore != nil && now.Add(nbfLeeway).Before(reg.NotBefore.Time) {
		return &VerifyError{Reason: ReasonMalformed}
	}
	return nil
}

func (p *HMACProvider) VerifyAccess(token string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := p.parse(token, &claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, &VerifyError{Reason: ReasonWrongType}
	}
	if err := p.checkClock(claims.RegisteredClaims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (p *HMACProvider) VerifyRefresh(token string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := p.parse(token, &claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, &VerifyError{Reason: ReasonWrongType}
	}
	if err := p.checkClock(claims.RegisteredClaims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (p *HMACProvider) VerifyPreAuth(token string) (*PreAuthClaims, error) {
	var claims PreAuthClaims
	if err := p.parse(token, &claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypePreAuth {
		return nil, &VerifyError{Reason: ReasonWrongType}
	}
	if err := p.checkClock(claims.RegisteredClaims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (p *HMACProvider) SessionFromExpired(token string) (uuid.UUID, error) {
	var access AccessClaims
	if err := p.parse(token, &access); err == nil && access.TokenType == TokenTypeAccess {
		return access.SessionID, nil
	}
	var refresh RefreshClaims
	if err := p.parse(token, &refresh); err != nil {
		return uuid.Nil, err
	}
	if refresh.TokenType != TokenTypeRefresh {
		return uuid.Nil, &VerifyError{Reason: ReasonWrongType}
	}
	return refresh.SessionID, nil
}
