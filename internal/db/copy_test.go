package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_Empty(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "run_samples", []string{"a"}, 0, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"idx", "weight"}
	mock.ExpectCopyFrom(pgx.Identifier{"run_samples"}, cols).WillReturnResult(3)

	n, err := CopyFrom(context.Background(), mock, "run_samples", cols, 3, func(i int) ([]any, error) {
		return []any{i, 1.0 / 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"run_samples"}, []string{"idx"}).WillReturnError(errors.New("permission denied"))

	_, err = CopyFrom(context.Background(), mock, "run_samples", []string{"idx"}, 1, func(i int) ([]any, error) {
		return []any{i}, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO run_samples")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPool_SatisfiedByMock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	var _ Pool = mock
}
