package csrf_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stockway/portal/pkg/csrf"
)

func TestCSRF(t *testing.T) {
	issued := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		genKey          string // Key used to generate the CSRF token
		genBinding      string // Fingerprint used to generate the CSRF token
		validateKey     string // Key used to validate the token
		validateBinding string // Fingerprint used to validate the token
		validateAt      time.Time
		wantValid       bool
	}{
		{
			name:            "Validate a token successfully",
			genKey:          "my-super-secret-key",
			genBinding:      "some-fingerprint",
			validateKey:     "my-super-secret-key",
			validateBinding: "some-fingerprint",
			validateAt:      issued.Add(10 * time.Minute),
			wantValid:       true,
		},
		{
			name:            "Mismatched fingerprint. Token is invalid",
			genKey:          "my-super-secret-key",
			genBinding:      "some-fingerprint",
			validateKey:     "my-super-secret-key",
			validateBinding: "other-fingerprint",
			validateAt:      issued,
			wantValid:       false,
		},
		{
			name:            "Mismatched key. Token is invalid",
			genKey:          "my-super-secret-key",
			genBinding:      "some-fingerprint",
			validateKey:     "mismatched-key",
			validateBinding: "some-fingerprint",
			validateAt:      issued,
			wantValid:       false,
		},
		{
			name:            "Expired token. Token is invalid",
			genKey:          "my-super-secret-key",
			genBinding:      "some-fingerprint",
			validateKey:     "my-super-secret-key",
			validateBinding: "some-fingerprint",
			validateAt:      issued.Add(2 * time.Hour),
			wantValid:       false,
		},
		{
			name:            "Token from the future. Token is invalid",
			genKey:          "my-super-secret-key",
			genBinding:      "some-fingerprint",
			validateKey:     "my-super-secret-key",
			validateBinding: "some-fingerprint",
			validateAt:      issued.Add(-time.Hour),
			wantValid:       false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			token := csrf.NewToken(tc.genBinding, []byte(tc.genKey), issued)
			valid := csrf.Validate(token, tc.validateBinding, []byte(tc.validateKey), time.Hour, tc.validateAt)
			assert.Equal(t, tc.wantValid, valid, "Failed to validate the CSRF token")
		})
	}
}

func TestValidateMalformed(t *testing.T) {
	key := []byte("key")
	now := time.Now()

	for _, token := range []string{"", "abc", "zz.00.1", "00.00.notanumber", "a.b.c.d"} {
		assert.False(t, csrf.Validate(token, "fp", key, time.Hour, now), "token %q", token)
	}
}

func TestValidateTampered(t *testing.T) {
	key := []byte("key")
	now := time.Now()
	token := csrf.NewToken("fp", key, now)

	// shifting the issue time breaks the signature
	tampered := token[:len(token)-1] + "9"
	if tampered == token {
		tampered = token[:len(token)-1] + "8"
	}

	assert.True(t, csrf.Validate(token, "fp", key, 0, now))
	assert.False(t, csrf.Validate(tampered, "fp", key, 0, now))
}
