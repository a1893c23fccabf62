package util

import (
	"fmt"
	"net/http"
	"net/url"
)

// NewProxyFunc returns the proxy selector for remote table fetches.
// Without explicit proxies the standard environment variables apply.
func NewProxyFunc(httpProxy, httpsProxy string) (func(*http.Request) (*url.URL, error), error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment, nil
	}

	parse := func(raw string) (*url.URL, error) {
		if raw == "" {
			return nil, nil
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q", raw)
		}
		return u, nil
	}
	httpURL, err := parse(httpProxy)
	if err != nil {
		return nil, err
	}
	httpsURL, err := parse(httpsProxy)
	if err != nil {
		return nil, err
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" && httpsURL != nil {
			return httpsURL, nil
		}
		if httpURL != nil {
			return httpURL, nil
		}
		return http.ProxyFromEnvironment(req)
	}, nil
}
