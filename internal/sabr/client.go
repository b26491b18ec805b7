package sabr

import (
	"net/http"
	"net/url"
	"time"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome Safari"
	musicOrigin      = "https://music.youtube.com"

	// Client identity 67 is the web music client.
	defaultClientName = 67
)

// ClientConfig is the session-global identity echoed in every request.
type ClientConfig struct {
	VisitorData   string
	ClientName    int64 // 0 falls back to the web music client
	ClientVersion string
	UserAgent     string
	HL            string
	GL            string
	Cookie        string
	ProxyURL      string
}

// Client drives SABR fetches. The HTTP client is shared and safe for
// concurrent fetches; all per-fetch state lives in the session.
type Client struct {
	httpClient *http.Client
	cfg        ClientConfig
}

// NewClient wraps an HTTP client with the session-global identity. A
// nil httpClient is replaced by one from NewHTTPClient.
func NewClient(httpClient *http.Client, cfg ClientConfig) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.ProxyURL)
	}
	if cfg.ClientName == 0 {
		cfg.ClientName = defaultClientName
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Client{httpClient: httpClient, cfg: cfg}
}

// NewHTTPClient builds an HTTP client with a 30 s connect timeout, a
// 30 s TLS handshake timeout and a 60 s wait for response headers once
// the request is written. Writing the request body and reading the
// response body have no timeout of their own. proxyURL may be empty.
func NewHTTPClient(proxyURL string) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&dialerWithTimeout).DialContext,
		TLSHandshakeTimeout:   30 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		ExpectContinueTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{Transport: transport}
}
