package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts n rows into table using the COPY protocol. row is
// called once per index to produce the column values.
func CopyFrom(ctx context.Context, c Copier, table string, columns []string, n int, row func(i int) ([]any, error)) (int64, error) {
	if n == 0 {
		return 0, nil
	}
	copied, err := c.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromSlice(n, row))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return copied, nil
}
