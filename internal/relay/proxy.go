package relay

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"dormpay/internal/cache"
	"dormpay/internal/core"
	"dormpay/internal/log"
	"dormpay/internal/middleware/trace"
)

// ProxyPrefixes are the API resource trees forwarded to the upstream.
var ProxyPrefixes = []string{"/students", "/payments", "/receipts", "/reports", "/admin"}

// newProxy forwards requests to target with the path preserved and the Host
// header rewritten to the target host. Successful receipt and payment
// mutations passing through drop the affected cached receipts.
func newProxy(target *url.URL, receipts *cache.LRUCache[core.Receipt], logger *log.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
			if id := trace.GetRequestID(r.In.Context()); id != "" {
				r.Out.Header.Set(trace.RequestIDHeader, id)
			}
			logger.InfoContext(r.In.Context(), "Forwarding request",
				log.FieldMethod, r.In.Method,
				log.FieldPath, r.In.URL.RequestURI(),
				log.FieldTarget, target.Host)
		},
		ModifyResponse: func(resp *http.Response) error {
			// The relay's own request id wins over the upstream echo.
			resp.Header.Del(trace.RequestIDHeader)
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				path := strings.TrimPrefix(resp.Request.URL.Path, strings.TrimSuffix(target.Path, "/"))
				invalidateReceipts(receipts, resp.Request.Method, path)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, r.Context().Err()) {
				logger.DebugContext(r.Context(), "Client went away during proxy", log.FieldError, err)
				return
			}
			logger.ErrorContext(r.Context(), "Upstream request failed",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldTarget, target.Host,
				log.FieldError, err)
			writeError(w, r, http.StatusBadGateway, "upstream unavailable")
		},
	}
}

// invalidateReceipts drops cached receipts a mutation may have changed. The
// cache is keyed by payment id, so a change addressed by receipt id clears
// everything.
func invalidateReceipts(receipts *cache.LRUCache[core.Receipt], method, path string) {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return
	}
	switch {
	case strings.HasPrefix(path, "/payments/"):
		id, _, _ := strings.Cut(strings.TrimPrefix(path, "/payments/"), "/")
		if id == "" {
			receipts.Purge()
			return
		}
		receipts.Delete(id)
	case path == "/receipts" || strings.HasPrefix(path, "/receipts/"):
		receipts.Purge()
	}
}
