package portal

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	slogctx "github.com/veqryn/slog-context"

	"github.com/stockway/portal/internal/guard"
	"github.com/stockway/portal/internal/middleware/requestid"
)

// newProxy forwards /api/ calls to the backend through the bearer
// transport. Portal cookies stay on the portal.
func newProxy(backend *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(backend)
			pr.SetXForwarded()
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")

			if id, err := requestid.FromContext(pr.In.Context()); err == nil {
				pr.Out.Header.Set(requestid.Header, id)
			}
		},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Del("Set-Cookie")
			if resp.StatusCode == http.StatusUnauthorized {
				resp.Header.Set(RedirectHeader, guard.PathLogin)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slogctx.Error(r.Context(), "Backend request failed", "error", err, "path", r.URL.Path)
			writeError(w, http.StatusBadGateway, "The server could not be reached")
		},
	}
}
