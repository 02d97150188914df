package request

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"

	"github.com/carlmjohnson/versioninfo"
)

// Doer is the minimal HTTP client seam. *http.Client satisfies it; tests
// inject recording fakes.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var defaultUserAgent = "arcrest/" + versioninfo.Short()

// send issues a single HTTP call. Network failures are wrapped as
// TransportError; HTTP-level and platform-level failures are left for the
// caller to interpret from the response.
func send(ctx context.Context, client Doer, method, url string, body io.Reader, contentType string, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k := range headers {
		req.Header.Set(k, headers.Get(k))
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	return resp, nil
}

// PostForm sends an x-www-form-urlencoded POST and applies the platform's
// response conventions, returning the parsed JSON body. Used by the
// credential managers for token and revocation endpoints, which never
// carry binary payloads.
func PostForm(ctx context.Context, client Doer, url string, vals neturl.Values) (json.RawMessage, error) {
	resp, err := send(ctx, client, http.MethodPost, url,
		strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	if err := interpretBody(resp.StatusCode, raw, resp.Header.Get("Content-Type"), url); err != nil {
		return nil, err
	}

	var msg json.RawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("expected JSON response from %s: %w", url, err)
	}
	return msg, nil
}

// interpretBody applies the platform's failure conventions to a fully-read
// response body. Two conventions are equally authoritative: a non-2xx HTTP
// status, and an `{"error": ...}` envelope embedded in an HTTP 200 JSON
// body. The second is how the platform reports most failures, so it is
// checked on every JSON response.
func interpretBody(statusCode int, body []byte, contentType, url string) error {
	jsonBody := strings.HasPrefix(contentType, "application/json") ||
		strings.HasPrefix(contentType, "text/plain") ||
		looksLikeJSON(body)

	if jsonBody {
		var eb ErrorBody
		if err := json.Unmarshal(body, &eb); err == nil && eb.Err != nil {
			return eb.APIError(statusCode, url, body)
		}
	}

	if statusCode < 200 || statusCode >= 300 {
		return (&ErrorBody{}).APIError(statusCode, url, body)
	}
	return nil
}

func looksLikeJSON(body []byte) bool {
	for _, c := range body {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}
