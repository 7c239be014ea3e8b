package cli

import (
	"fmt"

	"github.com/bfollington/claude-blackboard-sub000/internal/store"
	"github.com/bfollington/claude-blackboard-sub000/internal/store/postgres"
)

// openStore opens the registry for the selected driver. Driver "" or
// "sqlite" uses the home directory; "postgres" uses dbURL or
// DATABASE_URL.
func openStore(home, driver, dbURL string) (store.Store, error) {
	switch driver {
	case "", "sqlite":
		return store.Open(home)
	case "postgres":
		return postgres.Open(dbURL)
	default:
		return nil, fmt.Errorf("unknown db driver %q (want sqlite or postgres)", driver)
	}
}
