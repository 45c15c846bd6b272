package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// DSN returns a PostgreSQL connection URL for the pgx driver.
// If ConnectionString is set, it is used directly. Otherwise, builds the URL
// from discrete fields.
func (d *DatabaseConfig) DSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else {
		u.User = url.User(d.User)
	}
	if mode := strings.TrimSpace(d.SSLMode); mode != "" {
		q := url.Values{}
		q.Set("sslmode", mode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// ParsedDSN parses the effective DSN with pgx so malformed values surface at
// validation time rather than on first connect.
func (d *DatabaseConfig) ParsedDSN() (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(d.DSN())
	if err != nil {
		return nil, fmt.Errorf("invalid database dsn: %w", err)
	}
	return cfg, nil
}

// RedactedDSN returns the DSN with the password masked, for logging.
func (d *DatabaseConfig) RedactedDSN() string {
	cfg, err := d.ParsedDSN()
	if err != nil {
		return "<invalid>"
	}
	return fmt.Sprintf("postgres://%s@%s/%s", cfg.User, net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port))), cfg.Database)
}
