package auth

import (
	"testing"

	"github.com/clavis-id/clavis/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestPasswordPolicy(t *testing.T) {
	cases := []struct {
		name     string
		password string
		wantCode string // "" means accepted
	}{
		{"minimal valid", "Aa1!xyzw", ""},
		{"seven chars rejected", "Aa1!xyz", "password_too_short"},
		{"129 chars rejected", "Aa1!" + string(make([]byte, 125)), "password_too_long"},
		{"missing upper", "aa1!xyzw", "password_no_upper"},
		{"missing lower", "AA1!XYZW", "password_no_lower"},
		{"missing digit", "Aab!xyzw", "password_no_digit"},
		{"missing special", "Aa1bxyzw", "password_no_special"},
		{"common sequence", "Qwerty7!x", "password_common_sequence"},
		{"common sequence cased", "PaSsWoRd9!", "password_common_sequence"},
		{"embedded admin", "SuperAdmin3!", "password_common_sequence"},
		{"triple run", "Aa1!xxxw", "password_repeated_run"},
		{"double run allowed", "Aa1!xxyw", ""},
		{"typical strong password", "P@ssw0rd!1", ""},
		{"another strong password", "NewP@ss!9", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckPasswordPolicy(tc.password)
			if tc.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Equal(t, tc.wantCode, apperr.CodeOf(err))
		})
	}
}
