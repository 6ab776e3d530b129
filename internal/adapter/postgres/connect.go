package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const defaultConnectTimeout = 10 * time.Second

// BuildDSN renders connection parameters as a postgres:// URL.
func BuildDSN(p domain.ConnParams) string {
	port := p.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(port)),
		Path:   "/" + p.Database,
	}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}
	q := url.Values{}
	if p.SSLMode != "" {
		q.Set("sslmode", p.SSLMode)
	}
	timeout := p.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	q.Set("connect_timeout", strconv.Itoa(int(timeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

// connect opens a single dedicated connection. Callers must close it.
func connect(ctx context.Context, cfg *pgx.ConnConfig) (*pgx.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, cfg.Copy())
	if err != nil {
		return nil, classifyConnectError(err)
	}
	return conn, nil
}

// classifyConnectError maps a connect failure onto a ConnectionError kind.
func classifyConnectError(err error) error {
	kind := domain.ConnGeneric

	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "28"):
		kind = domain.ConnAuthentication
	case pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded):
		kind = domain.ConnTimeout
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"):
			kind = domain.ConnTimeout
		case strings.Contains(msg, "authentication"):
			kind = domain.ConnAuthentication
		case isDialError(err), strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
			kind = domain.ConnUnreachable
		}
	}
	return &domain.ConnectionError{Kind: kind, Err: err}
}

func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// RedactDSN replaces the password in a postgres:// URL with "xxxxx".
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

func parseConfig(dsn string) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	return cfg, nil
}
