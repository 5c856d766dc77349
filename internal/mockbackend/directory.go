package mockbackend

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-admin-session/directory"
	"github.com/jrsteele09/go-admin-session/directory/refreshrepofake"
	tenantrepofakes "github.com/jrsteele09/go-admin-session/tenants/repofakes"
	"github.com/jrsteele09/go-admin-session/token"
	fakeuserrepo "github.com/jrsteele09/go-admin-session/users/repofake"
)

const Issuer = "dash-mock-backend"

// NewDirectory builds an in-memory directory signing HS256 access tokens
// with secret.
func NewDirectory(secret string, accessTTL, refreshTTL time.Duration, clock clockwork.Clock) (*directory.Local, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	minter := token.NewMinter(token.NewHMACSigner(secret), Issuer, accessTTL, clock)
	return directory.NewLocal(directory.Repos{
		Users:         fakeuserrepo.NewFakeUserRepo(),
		Tenants:       tenantrepofakes.NewFakeTenantRepo(),
		RefreshTokens: refreshrepofake.NewFakeRefreshTokenRepo(),
	}, minter,
		directory.WithClock(clock),
		directory.WithRefreshTTL(refreshTTL),
	)
}
