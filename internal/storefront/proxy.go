package storefront

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"FruitMarket/internal/api"
	"FruitMarket/pkg/kit"
)

const apiPrefix = "/api"

// NewReverseProxy forwards /api/* to target with the prefix removed. Requests
// without Authorization carry the logged-in staff token.
func NewReverseProxy(target string, tokens api.TokenSource, log *zap.Logger) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: target, Err: errBadTarget}
	}
	log = kit.OrNop(log)

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = stripAPIPrefix(pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.SetURL(u)
			pr.SetXForwarded()

			if pr.Out.Header.Get("Authorization") == "" && tokens != nil {
				if tok := tokens.Token(); tok != "" {
					pr.Out.Header.Set("Authorization", "Bearer "+tok)
				}
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn("api proxy failed", zap.String("path", r.URL.Path), zap.Error(err))
			kit.WriteError(w, r, http.StatusBadGateway, "upstream unavailable", nil)
		},
	}, nil
}

func stripAPIPrefix(p string) string {
	p = strings.TrimPrefix(p, apiPrefix)
	if p == "" {
		return "/"
	}
	return p
}
