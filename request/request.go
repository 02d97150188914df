package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultMaxURLLength is the longest GET URL sent before the orchestrator
// switches the same parameters into a POST body. Matches the shortest
// common proxy/browser limit.
const DefaultMaxURLLength = 2000

// TokenProvider produces a valid bearer token for a destination URL.
// The three concrete managers (API key, application credentials,
// interactive identity) live in the auth packages; Do only sees this
// capability.
//
// An empty token with a nil error means the destination is public and the
// request should be sent unauthenticated.
type TokenProvider interface {
	// Portal returns the home portal base URL this provider was created
	// against.
	Portal() string

	// Token returns a bearer token valid for the given destination URL,
	// refreshing or exchanging tokens as needed.
	Token(ctx context.Context, requestURL string) (string, error)

	// CanRefresh reports whether Refresh can obtain fresh credentials.
	// Do only attempts its single auth retry when this is true.
	CanRefresh() bool

	// Refresh discards the cached token and obtains a new one.
	Refresh(ctx context.Context) error
}

// ResponseFormat selects the shape of the result returned by Do.
type ResponseFormat int

const (
	// FormatJSON (the default) parses the response body as JSON, decoding
	// known binary feature payloads into their JSON equivalent first.
	FormatJSON ResponseFormat = iota

	// FormatBytes returns the raw response body. Platform error envelopes
	// are still detected when the body is JSON.
	FormatBytes

	// FormatResponse returns the *http.Response unread. The caller owns
	// the body and all error interpretation; no auth retry is possible.
	FormatResponse
)

// Options configures a single request. Constructed per call by endpoint
// wrappers and consumed once by Do; never retained.
type Options struct {
	// Method is "GET" or "POST". Defaults to GET; multipart parameters or
	// URL-length overflow force POST regardless.
	Method string

	Params Params

	// Auth supplies the bearer token. Nil means unauthenticated.
	Auth TokenProvider

	// Token is a raw token string used directly instead of a provider.
	// No refresh is possible with a raw token.
	Token string

	// HideToken sends the token as an Authorization header instead of a
	// request parameter, for destinations that log query strings.
	HideToken bool

	// ForceMultipart encodes the parameters as multipart/form-data even
	// when no value is binary, for endpoints that demand it.
	ForceMultipart bool

	Format ResponseFormat

	// MaxURLLength overrides DefaultMaxURLLength when positive.
	MaxURLLength int

	Headers http.Header

	// HTTPClient overrides http.DefaultClient.
	HTTPClient Doer
}

// Response is the successful result of Do.
type Response struct {
	StatusCode int
	Header     http.Header

	// JSON is set for FormatJSON when the body parsed as JSON.
	JSON json.RawMessage

	// Bytes holds the raw body for FormatBytes, and for FormatJSON
	// responses whose body was not parseable JSON.
	Bytes []byte

	// HTTP is set only for FormatResponse; its body is unread.
	HTTP *http.Response
}

// Decode unmarshals the JSON result into v.
func (r *Response) Decode(v any) error {
	if r.JSON == nil {
		return fmt.Errorf("response has no JSON body")
	}
	return json.Unmarshal(r.JSON, v)
}

// Do is the single entry point all endpoint wrappers call. It encodes
// parameters, attaches authentication, chooses the HTTP verb, issues the
// call, and interprets the platform's two failure conventions.
//
// When the failure is an invalid/expired token error and the provider can
// refresh, the credentials are refreshed and the whole request retried
// exactly once. A second auth failure is surfaced; nothing else is ever
// retried here.
func Do(ctx context.Context, rawURL string, opts *Options) (*Response, error) {
	if opts == nil {
		opts = &Options{}
	}

	// Buffer reader-backed binary values up front: the retry below encodes
	// the parameters a second time and must send the same payload.
	params, err := replayableParams(opts.Params)
	if err != nil {
		return nil, err
	}

	resp, err := doOnce(ctx, rawURL, opts, params)
	if err == nil {
		return resp, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.AuthError() {
		return nil, err
	}
	if opts.Auth == nil || !opts.Auth.CanRefresh() || ctx.Err() != nil {
		return nil, err
	}

	if refreshErr := opts.Auth.Refresh(ctx); refreshErr != nil {
		return nil, refreshErr
	}
	return doOnce(ctx, rawURL, opts, params)
}

func doOnce(ctx context.Context, rawURL string, opts *Options, base Params) (*Response, error) {
	params := make(Params, len(base)+2)
	for k, v := range base {
		params[k] = v
	}
	if opts.Format != FormatResponse {
		if _, ok := params["f"]; !ok {
			params["f"] = "json"
		}
	}

	headers := make(http.Header)
	for k := range opts.Headers {
		headers.Set(k, opts.Headers.Get(k))
	}

	token := opts.Token
	if opts.Auth != nil {
		var err error
		token, err = opts.Auth.Token(ctx, rawURL)
		if err != nil {
			return nil, err
		}
	}
	if token != "" {
		if opts.HideToken {
			headers.Set("Authorization", "Bearer "+token)
			// the platform refuses parameter tokens on the same call
			headers.Set("X-Esri-Authorization", "Bearer "+token)
		} else {
			params["token"] = token
		}
	}

	encoded, err := EncodeParams(params, opts.ForceMultipart)
	if err != nil {
		return nil, fmt.Errorf("encoding parameters: %w", err)
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	maxLen := opts.MaxURLLength
	if maxLen <= 0 {
		maxLen = DefaultMaxURLLength
	}

	var (
		reqURL      = rawURL
		body        io.Reader
		contentType string
	)
	switch {
	case encoded.Kind == BodyMultipart:
		method = http.MethodPost
		body = bytes.NewReader(encoded.Body)
		contentType = encoded.ContentType
	case method == http.MethodGet:
		qs := encoded.Values.Encode()
		if qs != "" {
			reqURL = rawURL + "?" + qs
		}
		if len(reqURL) > maxLen {
			// same parameters, different verb
			method = http.MethodPost
			reqURL = rawURL
			body = strings.NewReader(qs)
			contentType = "application/x-www-form-urlencoded"
		}
	default:
		body = strings.NewReader(encoded.Values.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpResp, err := send(ctx, opts.HTTPClient, method, reqURL, body, contentType, headers)
	if err != nil {
		return nil, err
	}

	if opts.Format == FormatResponse {
		return &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			HTTP:       httpResp,
		}, nil
	}

	defer httpResp.Body.Close()
	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}

	respType := httpResp.Header.Get("Content-Type")
	if err := interpretBody(httpResp.StatusCode, raw, respType, rawURL); err != nil {
		return nil, err
	}

	out := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
	}

	switch opts.Format {
	case FormatBytes:
		out.Bytes = raw
	default:
		if strings.HasPrefix(respType, "application/x-protobuf") {
			fc, err := DecodeFeatureCollection(raw)
			if err != nil {
				return nil, fmt.Errorf("decoding feature payload from %s: %w", rawURL, err)
			}
			j, err := json.Marshal(fc)
			if err != nil {
				return nil, err
			}
			out.JSON = j
			break
		}
		var msg json.RawMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// not JSON; hand the text back as-is
			out.Bytes = raw
			break
		}
		out.JSON = msg
	}
	return out, nil
}
