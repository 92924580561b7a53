package signup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockway/portal/internal/backendtest"
	"github.com/stockway/portal/internal/business"
	"github.com/stockway/portal/internal/prompt"
	"github.com/stockway/portal/internal/role"
	"github.com/stockway/portal/internal/serviceerr"
)

func TestRun(t *testing.T) {
	backend := backendtest.Start(t)
	cfg := backend.Config(t)

	var out strings.Builder
	err := run(t.Context(), cfg, &options{email: "fresh@stockway.example"},
		prompt.Static{"Password": "longenough", "Confirm password": "longenough"}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Account created for fresh")
	assert.Contains(t, out.String(), "waiting for approval")

	client, err := business.InitClient(t.Context(), cfg)
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, role.Pending, client.Store.Snapshot().Role())
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name       string
		opts       options
		wantErr    error
		wantOut    string
		wantSignUp int
	}{
		{
			name:    "short password",
			opts:    options{email: "fresh@stockway.example", password: "abc", confirm: "abc"},
			wantErr: serviceerr.ErrValidation,
			wantOut: "Password must be at least 6 characters",
		},
		{
			name:    "confirmation mismatch",
			opts:    options{email: "fresh@stockway.example", password: "longenough", confirm: "different"},
			wantErr: serviceerr.ErrValidation,
			wantOut: "Passwords do not match",
		},
		{
			name:       "email already registered",
			opts:       options{email: "owner@shop.example", password: "longenough", confirm: "longenough"},
			wantErr:    serviceerr.ErrValidation,
			wantOut:    "already exists",
			wantSignUp: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := backendtest.Start(t)

			var out strings.Builder
			err := run(t.Context(), backend.Config(t), &tt.opts, prompt.Static{}, &out)

			require.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, out.String(), tt.wantOut)
			assert.Equal(t, tt.wantSignUp, backend.Count("/api/auth/signup/"))
		})
	}
}
