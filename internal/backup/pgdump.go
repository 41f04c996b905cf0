package backup

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxDumper implements DatabaseDumper over a pgxpool connection pool,
// issuing a `COPY (SELECT ...) TO STDOUT` per table so the dump streams
// straight into the backup archive without buffering a table in memory.
type PgxDumper struct {
	pool *pgxpool.Pool
	// Tables lists the tables dumped for each database name; no entry
	// means every table in the public schema is dumped, discovered from
	// pg_tables.
	Tables map[string][]string
}

// NewPgxDumper builds a pool against dsn (the control plane's per-
// service database URL, see config.Snapshot.DatabaseURL). The pool
// connects lazily; the first real dial happens on the first Dump call,
// so a database that is briefly unreachable at startup does not fail
// CLI construction.
func NewPgxDumper(ctx context.Context, dsn string) (*PgxDumper, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgx: failed to create pool: %w", err)
	}
	return &PgxDumper{pool: pool, Tables: map[string][]string{}}, nil
}

// Close releases the pool.
func (d *PgxDumper) Close() {
	d.pool.Close()
}

// Dump writes a logical dump of database to w: every configured table's
// rows via COPY TO, one table per line-delimited section.
func (d *PgxDumper) Dump(ctx context.Context, database string, w io.Writer) error {
	tables := d.Tables[database]
	if len(tables) == 0 {
		discovered, err := d.discoverTables(ctx)
		if err != nil {
			return fmt.Errorf("pgx: failed to discover tables for %s: %w", database, err)
		}
		tables = discovered
	}

	for _, table := range tables {
		if _, err := fmt.Fprintf(w, "-- table: %s\n", table); err != nil {
			return err
		}
		query := fmt.Sprintf("COPY (SELECT * FROM %s) TO STDOUT", table)
		conn, err := d.pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("pgx: failed to acquire connection: %w", err)
		}
		tag, err := conn.Conn().PgConn().CopyTo(ctx, w, query)
		conn.Release()
		if err != nil {
			return fmt.Errorf("pgx: COPY failed for table %s: %w", table, err)
		}
		if _, err := fmt.Fprintf(w, "-- %d rows\n", tag.RowsAffected()); err != nil {
			return err
		}
	}
	return nil
}

func (d *PgxDumper) discoverTables(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
