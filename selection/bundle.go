package selection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/jrsteele09/go-admin-session/dispatch"
	"golang.org/x/sync/errgroup"
)

const maxParallelResources = 4

// Bundle is the set of tenant-scoped resources behind one dashboard view.
type Bundle struct {
	TenantID  string
	Resources map[string]json.RawMessage
	// Errors holds per-resource failures; the remaining resources are still usable.
	Errors map[string]error
}

func (b Bundle) Err() error {
	if len(b.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(b.Errors))
	for name, err := range b.Errors {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

// Decode unmarshals one loaded resource into v.
func (b Bundle) Decode(resource string, v any) error {
	raw, ok := b.Resources[resource]
	if !ok {
		if err, failed := b.Errors[resource]; failed {
			return err
		}
		return fmt.Errorf("resource %q not loaded", resource)
	}
	return json.Unmarshal(raw, v)
}

// ResourcePath is the endpoint of a tenant-scoped resource.
func ResourcePath(tenantID, resource string) string {
	return fmt.Sprintf("/orgs/%s/%s", url.PathEscape(tenantID), url.PathEscape(resource))
}

// NewBundleFetcher loads resources for a tenant in parallel. Only an
// AuthError fails the whole bundle; other failures are recorded per resource.
func NewBundleFetcher(r dispatch.Requester, resources ...string) Fetcher[string, Bundle] {
	return func(ctx context.Context, tenantID string) (Bundle, error) {
		bundle := Bundle{
			TenantID:  tenantID,
			Resources: make(map[string]json.RawMessage, len(resources)),
			Errors:    make(map[string]error),
		}
		var mu sync.Mutex

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallelResources)
		for _, resource := range resources {
			g.Go(func() error {
				resp, err := r.Request(gctx, ResourcePath(tenantID, resource), dispatch.Options{})

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					bundle.Errors[resource] = err
					if dispatch.IsAuthError(err) {
						return err
					}
					return nil
				}
				bundle.Resources[resource] = json.RawMessage(resp.Body)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return bundle, err
		}
		return bundle, nil
	}
}
