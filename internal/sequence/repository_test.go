package sequence

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextSequenceIncrementsPerPartition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO event_sequence").
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"last_sequence"}).AddRow(int64(1)))
	mock.ExpectQuery("INSERT INTO event_sequence").
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"last_sequence"}).AddRow(int64(2)))

	repo := NewRepository()
	first, err := repo.NextSequence(context.Background(), mock, "order-1")
	require.NoError(t, err)
	second, err := repo.NextSequence(context.Background(), mock, "order-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextSequenceWrapsErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	boom := errors.New("boom")
	mock.ExpectQuery("INSERT INTO event_sequence").WillReturnError(boom)

	_, err = NewRepository().NextSequence(context.Background(), mock, "order-1")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "next sequence")
}
