package sabr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

var dialerWithTimeout = net.Dialer{Timeout: 30 * time.Second}

// withRequestNumber appends rn=<n> to rawURL, reusing an existing query
// string when the redirect target already carries one.
func withRequestNumber(rawURL string, rn int) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%srn=%d", rawURL, sep, rn)
}

// post sends one protocol request and returns the streaming response
// body. The caller owns the body and must close it.
func (c *Client) post(ctx context.Context, rawURL string, rn int, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, withRequestNumber(rawURL, rn), bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Accept", "application/vnd.yt-ump")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Origin", musicOrigin)
	req.Header.Set("Referer", musicOrigin+"/")
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", c.cfg.Cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		resp.Body.Close()
		return nil, &TransportError{Status: resp.StatusCode, Body: string(snippet)}
	}
	return resp.Body, nil
}
