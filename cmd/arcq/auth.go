package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gis-tools/arcrest/auth"
	"github.com/gis-tools/arcrest/auth/oauth"
	"github.com/gis-tools/arcrest/pkg/robusthttp"
	"github.com/gis-tools/arcrest/request"

	"github.com/adrg/xdg"
	"github.com/urfave/cli/v2"
)

var ErrNoAuthSession = errors.New("no auth session found, run 'arcq login' first")

func persistAuthSession(data []byte) error {

	fPath, err := xdg.StateFile("arcq/auth-session.json")
	if err != nil {
		return err
	}

	f, err := os.OpenFile(fPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// loadAuthProvider restores whichever credential type was saved at login.
func loadAuthProvider() (request.TokenProvider, error) {

	fPath, err := xdg.SearchStateFile("arcq/auth-session.json")
	if err != nil {
		return nil, ErrNoAuthSession
	}

	fBytes, err := os.ReadFile(fPath)
	if err != nil {
		return nil, err
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(fBytes, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case "APIKey":
		return auth.DeserializeAPIKey(fBytes)
	case "ApplicationCredentials":
		creds, err := auth.DeserializeApplicationCredentials(fBytes)
		if err != nil {
			return nil, err
		}
		creds.HTTPClient = tokenEndpointClient()
		return creds, nil
	case "IdentitySession":
		sess, err := oauth.Deserialize(fBytes)
		if err != nil {
			return nil, err
		}
		sess.HTTPClient = tokenEndpointClient()
		return sess, nil
	default:
		return nil, fmt.Errorf("unknown saved credential type %q", head.Type)
	}
}

// tokenEndpointClient builds the HTTP client used for token grants. Grants
// are not idempotent (refresh token rotation), so only connection errors
// are retried.
func tokenEndpointClient() *http.Client {
	return robusthttp.NewClient(robusthttp.WithRetryPolicy(robusthttp.TokenEndpointPolicy))
}

var cmdLogin = &cli.Command{
	Name:  "login",
	Usage: "save portal credentials for later commands",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "portal",
			Usage:   "portal sharing API base URL",
			Value:   auth.DefaultPortal,
			EnvVars: []string{"ARCQ_PORTAL"},
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "long-lived API key",
			EnvVars: []string{"ARCQ_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "client-id",
			Usage:   "registered application client id",
			EnvVars: []string{"ARCQ_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "client-secret",
			Usage:   "application client secret (with --client-id; omit for interactive browser sign-in)",
			EnvVars: []string{"ARCQ_CLIENT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "redirect-uri",
			Usage:   "registered loopback redirect URI for interactive sign-in",
			Value:   "http://127.0.0.1:8765/callback",
			EnvVars: []string{"ARCQ_REDIRECT_URI"},
		},
		&cli.StringFlag{
			Name:    "username",
			Usage:   "named user sign-in",
			EnvVars: []string{"ARCQ_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "named user password (with --username)",
			EnvVars: []string{"ARCQ_PASSWORD"},
		},
	},
	Action: runLogin,
}

func runLogin(cctx *cli.Context) error {
	ctx := context.Background()
	portal := cctx.String("portal")

	var data []byte
	var err error
	switch {
	case cctx.String("api-key") != "":
		k := auth.NewAPIKey(cctx.String("api-key"))
		k.PortalURL = portal
		data, err = k.Serialize()
	case cctx.String("username") != "":
		if cctx.String("password") == "" {
			return fmt.Errorf("--username requires --password")
		}
		sess, serr := oauth.SignInWithPassword(ctx, tokenEndpointClient(), portal, cctx.String("username"), cctx.String("password"))
		if serr != nil {
			return serr
		}
		fmt.Printf("signed in as %s\n", sess.Username)
		data, err = sess.Serialize()
	case cctx.String("client-id") != "" && cctx.String("client-secret") != "":
		creds := auth.NewApplicationCredentials(cctx.String("client-id"), cctx.String("client-secret"))
		creds.PortalURL = portal
		creds.HTTPClient = tokenEndpointClient()
		// fetch once now so bad credentials fail here, not later
		if _, terr := creds.Token(ctx, portal); terr != nil {
			return terr
		}
		data, err = creds.Serialize()
	case cctx.String("client-id") != "":
		cfg := &oauth.Config{
			ClientID:    cctx.String("client-id"),
			RedirectURI: cctx.String("redirect-uri"),
			PortalURL:   portal,
			HTTPClient:  tokenEndpointClient(),
		}
		sess, serr := cfg.SignInViaLoopback(ctx, oauth.NewMemStore(), func(authURL string) error {
			fmt.Printf("open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
			return nil
		})
		if serr != nil {
			return serr
		}
		fmt.Printf("signed in as %s\n", sess.Username)
		data, err = sess.Serialize()
	default:
		return fmt.Errorf("need one of --api-key, --username, or --client-id")
	}
	if err != nil {
		return err
	}

	return persistAuthSession(data)
}

var cmdLogout = &cli.Command{
	Name:   "logout",
	Usage:  "revoke and forget saved credentials",
	Action: runLogout,
}

func runLogout(cctx *cli.Context) error {
	ctx := context.Background()

	provider, err := loadAuthProvider()
	if err == nil {
		if sess, ok := provider.(*oauth.Session); ok {
			sess.SignOut(ctx)
		}
	} else if err != ErrNoAuthSession {
		return err
	}

	fPath, err := xdg.SearchStateFile("arcq/auth-session.json")
	if err != nil {
		return nil
	}
	return os.Remove(fPath)
}
