package directory

import (
	"fmt"
	"strings"

	logx "castbot/pkg/logx"
)

// Open initializes the configured directory.
// It returns (nil, nil) if lookups are disabled.
func Open(cfg Config, log logx.Logger) (Directory, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "directory"), logx.String("driver", driver))

	switch driver {
	case "http", "https":
		return openHTTP(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
