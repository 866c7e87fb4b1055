package dbsession

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// Supported driver names
const (
	DriverPostgres  = "postgres"
	DriverPgx       = "pgx"
	DriverSQLServer = "sqlserver"
	DriverSQLite    = "sqlite"
)

// Credentials holds what is needed to reach every configured database on one server
type Credentials struct {
	Driver   string
	User     string
	Password string
	Server   string // hostname, or a directory for sqlite
	Port     int
	SSLMode  string
}

// BuildDSN builds the connection string for one database id on the credentials' server
func BuildDSN(creds Credentials, dbID string) (string, error) {
	switch creds.Driver {
	case DriverPostgres, DriverPgx, "":
		sslMode := creds.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		port := creds.Port
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			quoteValue(creds.Server),
			port,
			quoteValue(creds.User),
			quoteValue(creds.Password),
			quoteValue(dbID),
			quoteValue(sslMode),
		), nil

	case DriverSQLServer:
		port := creds.Port
		if port == 0 {
			port = 1433
		}
		query := url.Values{}
		query.Set("database", dbID)
		if creds.SSLMode != "" {
			query.Set("encrypt", creds.SSLMode)
		}
		u := &url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(creds.User, creds.Password),
			Host:     net.JoinHostPort(creds.Server, strconv.Itoa(port)),
			RawQuery: query.Encode(),
		}
		return u.String(), nil

	case DriverSQLite:
		path := filepath.Join(creds.Server, dbID+".db")
		return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDriver, creds.Driver)
	}
}

// driverName maps a configured driver to the database/sql registration name
func driverName(driver string) string {
	if driver == "" {
		return DriverPostgres
	}
	return driver
}

// quoteValue quotes a libpq keyword/value when it is empty or contains spaces, quotes or backslashes
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
