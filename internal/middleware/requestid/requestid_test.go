package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	existing := uuid.NewString()

	tests := []struct {
		name     string
		incoming string
		wantSame bool
	}{
		{name: "no incoming id"},
		{name: "malformed incoming id", incoming: "not-a-uuid"},
		{name: "valid incoming id", incoming: existing, wantSame: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var fromCtx string
			handler := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				id, err := FromContext(r.Context())
				require.NoError(t, err)
				fromCtx = id
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.incoming != "" {
				req.Header.Set(Header, tc.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			echoed := rec.Header().Get(Header)
			assert.Equal(t, fromCtx, echoed)
			_, err := uuid.Parse(echoed)
			require.NoError(t, err)

			if tc.wantSame {
				assert.Equal(t, tc.incoming, echoed)
			} else {
				assert.NotEqual(t, tc.incoming, echoed)
			}
		})
	}
}

func TestFromContextMissing(t *testing.T) {
	_, err := FromContext(t.Context())
	assert.Error(t, err)
}
