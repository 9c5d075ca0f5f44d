package auth

import (
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// MFAService handles TOTP secret generation and code validation for the
// optional second login leg. Tokens minted through this leg carry
// mfa_present=true, which feeds the ABAC mfa_required predicate.
type MFAService struct {
	issuer string
}

func NewMFAService(issuer string) *MFAService {
	return &MFAService{issuer: issuer}
}

// GenerateSecret creates a new TOTP key for the account. The provisioning
// URL is returned for the client to render; only the secret is persisted,
// and only after activation.
func (s *MFAService) GenerateSecret(accountName string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp key: %w", err)
	}
	return key, nil
}

// ValidateCode checks the code against the secret, tolerating one period
// of clock drift.
func (s *MFAService) ValidateCode(code, secret string) bool {
	return totp.Validate(code, secret)
}
