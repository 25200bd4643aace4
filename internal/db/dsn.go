package db

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultDatabase is used when the DSN names no database.
const DefaultDatabase = "transitlk"

// ResolveDSN normalizes a Postgres DSN: a missing scheme gets postgres://,
// an empty database path gets DefaultDatabase and application_name is set
// unless already present.
func ResolveDSN(dsn, appName string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	if strings.Trim(u.Path, "/") == "" {
		u.Path = "/" + DefaultDatabase
	}
	if appName != "" {
		q := u.Query()
		if q.Get("application_name") == "" {
			q.Set("application_name", appName)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}
