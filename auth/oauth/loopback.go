package oauth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// SignInViaLoopback runs the full authorization-code flow for a native or
// CLI application: it binds a temporary HTTP listener on the redirect
// URI's address, hands the authorization URL to openURL (which should put
// it in front of the user, typically by launching a browser), and waits
// for the portal to redirect the user back with a code.
//
// The redirect URI must point at a loopback address the process can bind,
// e.g. "http://127.0.0.1:8765/callback", and must match the URI
// registered for the client application. The call blocks until the
// callback arrives or ctx is cancelled.
func (c *Config) SignInViaLoopback(ctx context.Context, store AuthRequestStore, openURL func(authURL string) error) (*Session, error) {
	redirect, err := url.Parse(c.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect URI: %w", err)
	}
	cbPath := redirect.Path
	if cbPath == "" {
		cbPath = "/"
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("listening on redirect address: %w", err)
	}

	authURL, err := c.BeginAuth(ctx, store)
	if err != nil {
		ln.Close()
		return nil, err
	}

	type callbackResult struct {
		sess *Session
		err  error
	}
	results := make(chan callbackResult, 1)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != cbPath {
			// browsers also ask for /favicon.ico
			http.NotFound(w, r)
			return
		}
		sess, err := c.HandleCallback(ctx, store, r.URL.Query())
		if err != nil {
			http.Error(w, "sign-in failed, you can close this window", http.StatusBadRequest)
		} else {
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprintln(w, "signed in, you can close this window")
		}
		select {
		case results <- callbackResult{sess, err}:
		default:
		}
	})}
	go srv.Serve(ln)
	defer srv.Close()

	if openURL != nil {
		if err := openURL(authURL); err != nil {
			return nil, err
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		return res.sess, res.err
	}
}
