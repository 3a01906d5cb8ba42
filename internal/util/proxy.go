// Package util holds small shared helpers for the outbound HTTP clients.
package util

import (
	"net/http"
	"net/url"
)

// NewProxyFunc builds the proxy selector for the evidence-provider clients.
// Explicit proxy URLs win; with neither set, selection falls back to the
// standard environment variables.
func NewProxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}
	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}
