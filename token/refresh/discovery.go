package refresh

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-admin-session/credentials"
	"github.com/rs/zerolog/log"
)

// DiscoveredEndpoint reads the token endpoint from the OpenID discovery
// document published at the store's base address. Results are cached per
// issuer. When discovery fails the endpoint is fallbackPath under the base
// address and discovery is retried on the next exchange.
func DiscoveredEndpoint(store *credentials.Store, fallbackBaseURL, fallbackPath string, client *http.Client) Endpoint {
	var (
		mu         sync.Mutex
		discovered = make(map[string]string)
	)

	return func(ctx context.Context) string {
		issuer := strings.TrimRight(store.ResolveBaseURL(ctx, fallbackBaseURL), "/")

		mu.Lock()
		tokenURL, ok := discovered[issuer]
		mu.Unlock()
		if ok {
			return tokenURL
		}

		if client != nil {
			ctx = oidc.ClientContext(ctx, client)
		}
		provider, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			log.Warn().Err(err).Str("issuer", issuer).Msg("token endpoint discovery failed")
			return issuer + fallbackPath
		}
		tokenURL = provider.Endpoint().TokenURL
		if tokenURL == "" {
			return issuer + fallbackPath
		}

		mu.Lock()
		discovered[issuer] = tokenURL
		mu.Unlock()
		return tokenURL
	}
}
