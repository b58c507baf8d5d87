package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/convsync/internal/profile"
	"github.com/hrygo/convsync/store"
	"github.com/hrygo/convsync/store/db/postgres"
	"github.com/hrygo/convsync/store/db/sqlite"
)

// NewDBDriver creates the local backend db driver based on profile.
// SQLite is the default for development; PostgreSQL is supported for shared setups.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'sqlite' and 'postgres' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
