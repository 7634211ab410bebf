package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"moto_harvest/config"
)

type Clients struct {
	Scraping *http.Client // proxied, for the listing source
	API      *http.Client // direct, for object storage and the like
}

// NewClients builds the HTTP clients. An empty proxy URL means direct
// connections.
func NewClients(proxyCfg config.ProxyConfig, timeout time.Duration) (*Clients, error) {
	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
		IdleConnTimeout:   90 * time.Second,
	}

	if proxyCfg.URL != "" {
		proxyURL, err := url.Parse(proxyCfg.URL)
		if err != nil {
			return nil, eris.Wrap(err, "httputil: parse proxy url")
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	scraping := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}
