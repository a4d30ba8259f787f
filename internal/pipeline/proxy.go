package pipeline

import (
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// NewProxyFunc returns the proxy selector for the fetch client. Without
// configured proxies it defers to the environment (HTTP_PROXY, NO_PROXY...).
func NewProxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	cfg := &httpproxy.Config{
		HTTPProxy:  httpProxy,
		HTTPSProxy: httpsProxy,
		NoProxy:    noProxy,
	}
	if cfg.HTTPSProxy == "" {
		cfg.HTTPSProxy = httpProxy
	}

	proxy := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return proxy(req.URL)
	}
}
