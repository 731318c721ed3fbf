package proxy

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewReverseProxy forwards to target with trace propagation. Upstream
// failures become a JSON 502.
func NewReverseProxy(target *url.URL, logger *slog.Logger) *httputil.ReverseProxy {
	p := httputil.NewSingleHostReverseProxy(target)
	p.Transport = otelhttp.NewTransport(http.DefaultTransport)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("upstream request failed", "upstream", target.Host, "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "bad_gateway", "upstream unavailable")
	}
	return p
}
