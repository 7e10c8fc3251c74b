package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"seopulse/internal/types"
)

func TestSiteRepository_GetActiveSite(t *testing.T) {
	created := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewSiteRepository(db)
		db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"site_1", "org_1"}).
			Return(rowOf("site_1", "org_1", "example.com", "sc-domain:example.com", true, nil, ptr(81), created))

		site, err := repo.GetActiveSite(context.Background(), "site_1", "org_1")
		require.NoError(t, err)
		assert.Equal(t, "example.com", site.Domain)
		assert.Equal(t, 81, *site.CachedScore)
		assert.Nil(t, site.LastSyncedAt)
		assert.Equal(t, "https://example.com/", site.HomeURL())
	})

	t.Run("other organization reads as not found", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewSiteRepository(db)
		db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"site_1", "org_2"}).
			Return(&mockRow{scanErr: pgx.ErrNoRows})

		_, err := repo.GetActiveSite(context.Background(), "site_1", "org_2")
		require.Error(t, err)
		assert.Equal(t, types.ErrCodeNotFoundSite, types.CodeOf(err))
	})

	t.Run("database error", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewSiteRepository(db)
		db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
			Return(&mockRow{scanErr: errors.New("conn reset")})

		_, err := repo.GetActiveSite(context.Background(), "site_1", "org_1")
		assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	})
}

func TestSiteRepository_ListActiveSites(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSiteRepository(db)
	created := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	rows := newMockRows([][]any{
		{"site_1", "org_1", "a.example", "", true, nil, nil, created},
		{"site_2", "org_2", "b.example", "", true, &created, ptr(55), created},
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), []any{500}).Return(rows, nil)

	sites, err := repo.ListActiveSites(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "org_2", sites[1].OrganizationID)
	assert.Equal(t, created, *sites[1].LastSyncedAt)
}

func TestSiteRepository_LastSyncedAt(t *testing.T) {
	synced := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)

	db := new(mockDBTX)
	repo := NewSiteRepository(db)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"site_1"}).Return(rowOf(&synced))
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"gone"}).Return(&mockRow{scanErr: pgx.ErrNoRows})

	at, err := repo.LastSyncedAt(context.Background(), "site_1")
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.Equal(t, synced, *at)

	at, err = repo.LastSyncedAt(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, at)
}
