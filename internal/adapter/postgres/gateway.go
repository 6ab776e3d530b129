package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/guillermoBallester/querytuner/internal/core/port"
	"github.com/jackc/pgx/v5"
)

// closeTimeout bounds connection teardown when the caller's context is gone.
const closeTimeout = 5 * time.Second

// Gateway implements port.SandboxGateway on top of one short-lived pgx
// connection per call. It holds no connection between calls.
type Gateway struct {
	cfg      *pgx.ConnConfig
	schemas  []string // empty means all non-system schemas
	rewriter port.ReferenceRewriter
	logger   *slog.Logger
}

var _ port.SandboxGateway = (*Gateway)(nil)

// NewGateway validates the connection parameters without connecting.
func NewGateway(params domain.ConnParams, schemas []string, rewriter port.ReferenceRewriter, logger *slog.Logger) (*Gateway, error) {
	return NewGatewayFromDSN(BuildDSN(params), schemas, rewriter, logger)
}

// NewGatewayFromDSN is NewGateway for an already rendered connection string.
func NewGatewayFromDSN(dsn string, schemas []string, rewriter port.ReferenceRewriter, logger *slog.Logger) (*Gateway, error) {
	cfg, err := parseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if rewriter == nil {
		rewriter = domain.NewRegexRewriter()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{cfg: cfg, schemas: schemas, rewriter: rewriter, logger: logger}, nil
}

// withConn opens a connection, runs fn and always closes the connection.
func (g *Gateway) withConn(ctx context.Context, fn func(conn *pgx.Conn) error) error {
	conn, err := connect(ctx, g.cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()
	return fn(conn)
}

// Ping opens a connection and returns the server version string.
func (g *Gateway) Ping(ctx context.Context) (string, error) {
	var version string
	err := g.withConn(ctx, func(conn *pgx.Conn) error {
		if err := conn.QueryRow(ctx, queryServerVersion).Scan(&version); err != nil {
			return fmt.Errorf("querying server version: %w", err)
		}
		return nil
	})
	return version, err
}
