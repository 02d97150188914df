package federation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gis-tools/arcrest/request"
)

// ServerInfo describes the security posture of one federated server,
// derived from its public `/rest/info` endpoint.
type ServerInfo struct {
	// Server is the normalized service root the info was fetched from.
	Server string

	// OwningSystemURL is the portal this server is federated with, empty
	// for stand-alone servers.
	OwningSystemURL string

	// TokenServicesURL is where this server issues its own tokens, for
	// stand-alone secured servers.
	TokenServicesURL string

	// Secured reports whether token-based security is enabled at all. An
	// unsecured server needs no token attached.
	Secured bool

	Checked time.Time
}

type infoEntry struct {
	info *ServerInfo
}

// Directory caches ServerInfo per server root. Entries are assumed stable
// for the process lifetime; the TTL exists only to bound staleness after
// server reconfiguration. Concurrent lookups for the same server share a
// single in-flight fetch.
type Directory struct {
	HTTPClient request.Doer

	cache       *expirable.LRU[string, infoEntry]
	lookupChans sync.Map
}

// NewDirectory builds a Directory. Capacity zero means unlimited entries;
// ttl zero means entries never expire.
func NewDirectory(client request.Doer, capacity int, ttl time.Duration) *Directory {
	return &Directory{
		HTTPClient: client,
		cache:      expirable.NewLRU[string, infoEntry](capacity, nil, ttl),
	}
}

type restInfoResponse struct {
	OwningSystemURL string `json:"owningSystemUrl"`
	AuthInfo        struct {
		TokenServicesURL     string `json:"tokenServicesUrl"`
		IsTokenBasedSecurity bool   `json:"isTokenBasedSecurity"`
	} `json:"authInfo"`
}

// ServerInfo returns the cached security info for the server owning the
// given URL, fetching it on first use. Lookup failures are not cached;
// a later call retries the fetch.
func (d *Directory) ServerInfo(ctx context.Context, rawURL string) (*ServerInfo, error) {
	root := ServerRoot(rawURL)

	if entry, ok := d.cache.Get(root); ok {
		serverInfoCacheHits.Inc()
		return entry.info, nil
	}
	serverInfoCacheMisses.Inc()

	// coalesce concurrent lookups for the same server
	res := make(chan struct{})
	val, loaded := d.lookupChans.LoadOrStore(root, res)
	if loaded {
		serverInfoLookupsCoalesced.Inc()
		select {
		case <-val.(chan struct{}):
			if entry, ok := d.cache.Get(root); ok {
				return entry.info, nil
			}
			return nil, fmt.Errorf("server info lookup failed for %s", root)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	info, err := d.fetchInfo(ctx, root)
	if err == nil {
		d.cache.Add(root, infoEntry{info: info})
	}

	d.lookupChans.Delete(root)
	close(res)

	return info, err
}

func (d *Directory) fetchInfo(ctx context.Context, root string) (*ServerInfo, error) {
	resp, err := request.Do(ctx, root+"/rest/info", &request.Options{
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching server info for %s: %w", root, err)
	}

	var body restInfoResponse
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("parsing server info for %s: %w", root, err)
	}

	return &ServerInfo{
		Server:           root,
		OwningSystemURL:  Normalize(body.OwningSystemURL),
		TokenServicesURL: body.AuthInfo.TokenServicesURL,
		Secured:          body.AuthInfo.IsTokenBasedSecurity,
		Checked:          time.Now(),
	}, nil
}
