package httputil

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"listing_alerts/config"
)

type Clients struct {
	Source   *http.Client // listing source, proxied when PROXY_URL is set
	Telegram *http.Client // direct, for the Bot API
}

func NewClients(proxyCfg *config.ProxyConfig, sourceTimeout time.Duration) (*Clients, error) {
	source, err := NewClient(sourceTimeout, proxyCfg.URL)
	if err != nil {
		return nil, err
	}
	return &Clients{
		Source:   source,
		Telegram: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// NewClient builds a client with the given timeout that routes through proxyURL
// when it is non-empty.
func NewClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if proxyURL == "" {
		return client, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	client.Transport = &http.Transport{
		Proxy:             http.ProxyURL(u),
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	return client, nil
}
