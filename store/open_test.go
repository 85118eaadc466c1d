package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/store"
)

func TestOpenMemoryAndSQLite(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			s, err := store.Open(ctx, jobs.StoreConfig{Driver: driver}, nil)
			require.NoError(t, err)
			defer s.Close()

			require.NoError(t, s.Migrate(ctx))
			require.NoError(t, s.Ping(ctx))
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := store.Open(context.Background(), jobs.StoreConfig{Driver: "cassandra"}, nil)
	require.True(t, errors.Is(err, jobs.ErrValidation))
}
