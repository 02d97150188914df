// Package federation decides whether a token issued by one portal can be
// used against another host.
//
// A request can target the home portal itself, a federated server that
// trusts the home portal's tokens, an independent deployment with its own
// token domain, or a public unsecured server. The pure predicates here
// classify hosts by URL alone; the Directory performs (and caches) the
// owning-system lookups that require a network call.
package federation

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// Environment tags for the hosted platform's deployment tiers, inferred
// from subdomain naming.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvQA         Environment = "qa"
	EnvDev        Environment = "dev"
)

// Normalize canonicalizes a portal or server URL for comparison: lowercase
// scheme/host, default ports removed, trailing slash stripped. Returns the
// input unchanged if it does not parse.
func Normalize(raw string) string {
	clean, err := purell.NormalizeURLString(raw,
		purell.FlagsSafe|purell.FlagRemoveTrailingSlash|purell.FlagRemoveDuplicateSlashes)
	if err != nil {
		return raw
	}
	return clean
}

// IsOnline reports whether the URL targets the hosted platform (any
// `*.arcgis.com` host) rather than an on-premises deployment.
func IsOnline(raw string) bool {
	u, err := url.Parse(Normalize(raw))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "arcgis.com" || strings.HasSuffix(host, ".arcgis.com")
}

// OnlineEnvironment returns the deployment tier of a hosted-platform URL,
// or "" for non-hosted URLs.
func OnlineEnvironment(raw string) Environment {
	if !IsOnline(raw) {
		return ""
	}
	u, _ := url.Parse(Normalize(raw))
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "devext"):
		return EnvDev
	case strings.Contains(host, "qaext"):
		return EnvQA
	default:
		return EnvProduction
	}
}

// IsFederated reports whether a server's declared owning system matches
// the given portal. Comparison ignores protocol, per the platform's own
// convention: federation declarations are host-based.
func IsFederated(owningSystemURL, portalURL string) bool {
	owner := stripProtocol(Normalize(owningSystemURL))
	portal := stripProtocol(Normalize(portalURL))
	if owner == "" || portal == "" {
		return false
	}
	return strings.Contains(portal, owner) || strings.Contains(owner, portal)
}

// CanUseOnlineToken reports whether a token issued by portalURL is valid
// as-is for requestURL: both must be hosted-platform URLs in the same
// deployment tier. Tokens never cross tiers (a dev token is useless
// against qa or production).
func CanUseOnlineToken(portalURL, requestURL string) bool {
	portalEnv := OnlineEnvironment(portalURL)
	requestEnv := OnlineEnvironment(requestURL)
	if portalEnv == "" || requestEnv == "" {
		return false
	}
	return portalEnv == requestEnv
}

func stripProtocol(raw string) string {
	lower := strings.ToLower(raw)
	for _, p := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, p) {
			return lower[len(p):]
		}
	}
	return lower
}

// ServerRoot returns the service root of any URL on a REST server: the
// scheme, host, and web-adaptor instance path, cut before any `/rest/`
// segment. `https://gis.example.com/server/rest/services/Roads/FeatureServer/0`
// becomes `https://gis.example.com/server`.
func ServerRoot(raw string) string {
	norm := Normalize(raw)
	u, err := url.Parse(norm)
	if err != nil {
		return norm
	}
	path := u.Path
	if idx := strings.Index(strings.ToLower(path), "/rest/"); idx >= 0 {
		path = path[:idx]
	} else if strings.HasSuffix(strings.ToLower(path), "/rest") {
		path = path[:len(path)-len("/rest")]
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/")
}
