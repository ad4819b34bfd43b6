package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseUploadRepository(t *testing.T, db *DB) {
	ctx := context.Background()
	repo := NewUploadRepository(db)

	base := time.Now().UTC().Truncate(time.Second)
	first := &UploadRecord{
		SessionID:   "session-a",
		FileName:    "clip.mp4",
		ContentType: "video/mp4",
		Size:        1024,
		Source:      "selected",
		Outcome:     OutcomeFailed,
		Error:       "backend returned 500: boom",
		CreatedAt:   base,
	}
	second := &UploadRecord{
		SessionID:       "session-a",
		FileName:        "recording.webm",
		ContentType:     "video/webm",
		Size:            2048,
		Source:          "recorded",
		Outcome:         OutcomeSucceeded,
		PredictionCount: 2,
		TopWord:         "hello",
		CreatedAt:       base.Add(time.Second),
	}
	other := &UploadRecord{
		SessionID:   "session-b",
		FileName:    "other.mp4",
		ContentType: "video/mp4",
		Size:        1,
		Source:      "selected",
		Outcome:     OutcomeSucceeded,
	}

	for _, rec := range []*UploadRecord{first, second, other} {
		require.NoError(t, repo.Insert(ctx, rec))
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.CreatedAt.IsZero())
	}

	records, err := repo.ListBySession(ctx, "session-a", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, "hello", records[0].TopWord)
	assert.Equal(t, 2, records[0].PredictionCount)
	assert.Equal(t, first.ID, records[1].ID)
	assert.Equal(t, OutcomeFailed, records[1].Outcome)
	assert.Equal(t, "backend returned 500: boom", records[1].Error)
	assert.Equal(t, int64(1024), records[1].Size)

	limited, err := repo.ListBySession(ctx, "session-a", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := repo.ListBySession(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	counts, err := repo.CountByOutcome(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{OutcomeSucceeded: 2, OutcomeFailed: 1}, counts)

	long := &UploadRecord{
		SessionID:   "session-long",
		FileName:    strings.Repeat("very-long-name-", 40) + ".mp4",
		ContentType: "video/mp4; codecs=" + strings.Repeat("avc1.42E01E,", 20),
		Size:        10,
		Source:      "selected",
		Outcome:     OutcomeSucceeded,
		TopWord:     strings.Repeat("w", 300),
	}
	require.NoError(t, repo.Insert(ctx, long))
	stored, err := repo.ListBySession(ctx, "session-long", 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, long.FileName, stored[0].FileName)
	assert.Equal(t, long.TopWord, stored[0].TopWord)
}

func TestUploadRepositorySQLite(t *testing.T) {
	exerciseUploadRepository(t, setupSQLiteDB(t))
}

func TestUploadRepositoryPostgres(t *testing.T) {
	exerciseUploadRepository(t, setupPostgresDB(t))
}

func TestNewDBRejectsUnknownType(t *testing.T) {
	_, err := NewDB(context.Background(), Config{Type: "mysql"}, nil)
	assert.ErrorContains(t, err, "unsupported database type")
}
