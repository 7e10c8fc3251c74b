package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"seopulse/internal/types"
)

func TestJobLockRepository_Acquire(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		err      error
		wantLock bool
		wantCode types.ErrorCode
	}{
		{name: "new lock", tag: "INSERT 0 1", wantLock: true},
		{name: "expired lock reclaimed", tag: "INSERT 0 1", wantLock: true},
		{name: "held by another worker", tag: "INSERT 0 0", wantLock: false},
		{name: "database error", err: errors.New("connection refused"), wantCode: types.ErrCodeInternalDB},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewJobLockRepository(db)
			ctx := context.Background()

			db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
				Return(pgconn.NewCommandTag(tc.tag), tc.err)

			acquired, err := repo.Acquire(ctx, "sync_search:2026-03-01T03", "lambda-req-1", 15*time.Minute)
			if tc.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tc.wantCode, types.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantLock, acquired)
		})
	}
}

func TestJobLockRepository_Acquire_ExpiryFromTTL(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)
	now := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	fixNow(t, now)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"),
		[]any{"evaluate_alerts:2026-03-01T03", "w1", now, now.Add(time.Hour)}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	acquired, err := repo.Acquire(context.Background(), "evaluate_alerts:2026-03-01T03", "w1", time.Hour)
	require.NoError(t, err)
	assert.True(t, acquired)
	db.AssertExpectations(t)
}

func TestJobLockRepository_Holder(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return args[0] == "dedupe:free"
	})).Return(&mockRow{scanErr: pgx.ErrNoRows})
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return args[0] == "dedupe:held"
	})).Return(rowOf("msg-123"))

	holder, err := repo.Holder(context.Background(), "dedupe:free")
	require.NoError(t, err)
	assert.Empty(t, holder)

	holder, err = repo.Holder(context.Background(), "dedupe:held")
	require.NoError(t, err)
	assert.Equal(t, "msg-123", holder)
}

func TestJobHistoryRepository_StartFinish(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rowOf(int64(42)))
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		msg, ok := args[3].(*string)
		return args[0] == int64(42) && args[1] == "failed" && args[2] == 7 && ok && *msg == "partial failure"
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	id, err := repo.Start(ctx, "sync_search")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	require.NoError(t, repo.Finish(ctx, id, "failed", 7, errors.New("partial failure")))
	db.AssertExpectations(t)
}

func TestJobHistoryRepository_Finish_Missing(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Finish(context.Background(), 9, "success", 0, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalUnexpected, types.CodeOf(err))
}
