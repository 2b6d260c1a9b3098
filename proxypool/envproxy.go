package proxypool

import (
	"fmt"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// FromEnvironment returns the proxy that HTTP_PROXY, HTTPS_PROXY and NO_PROXY
// select for endpoint. No applicable proxy yields an empty list.
func FromEnvironment(endpoint string) ([]Spec, error) {
	return fromConfig(httpproxy.FromEnvironment(), endpoint)
}

func fromConfig(cfg *httpproxy.Config, endpoint string) ([]Spec, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	proxyURL, err := cfg.ProxyFunc()(u)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy environment: %w", err)
	}
	if proxyURL == nil {
		return []Spec{}, nil
	}
	return []Spec{{Address: proxyURL.String()}}, nil
}
