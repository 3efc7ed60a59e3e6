package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/batch"
	"github.com/rs/zerolog"
)

// Executor runs statements against the relational secret store.
type Executor interface {
	Exec(ctx context.Context, connString, statement string) error
}

// SQLServer executes statements and scripts with the SQL Server driver.
// Each call opens its own connection, so steps that target different
// databases never share session state.
type SQLServer struct {
	logger zerolog.Logger
}

// NewSQLServer creates an Executor backed by go-mssqldb.
func NewSQLServer(logger zerolog.Logger) *SQLServer {
	return &SQLServer{logger: logger.With().Str("component", "sqlserver").Logger()}
}

// Exec runs statement, splitting it into batches on GO separators.
// Driver errors are wrapped, never replaced, so engine diagnostics reach the caller.
func (s *SQLServer) Exec(ctx context.Context, connString, statement string) error {
	connector, err := mssql.NewConnector(connString)
	if err != nil {
		return fmt.Errorf("parse connection string: %w", err)
	}
	db := sql.OpenDB(connector)
	defer db.Close()

	for i, b := range batch.Split(statement, "GO") {
		if strings.TrimSpace(b) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, b); err != nil {
			return fmt.Errorf("batch %d: %w", i+1, err)
		}
	}
	return nil
}
