package requests_test

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"requestanalytics/internal/requests"
	"requestanalytics/internal/testsupport"
)

func TestStoreInsert(t *testing.T) {
	store := testsupport.SetupTestStore(t)
	ctx := context.Background()

	t.Run("fills defaults and normalizes time to UTC", func(t *testing.T) {
		loc := time.FixedZone("UTC+2", 2*60*60)
		event := &requests.RequestEvent{
			Path:      "/pricing",
			SessionID: "sess-1",
			VisitedAt: time.Date(2024, 3, 10, 12, 0, 0, 0, loc),
		}
		require.NoError(t, store.Insert(ctx, event))

		var stored requests.RequestEvent
		require.NoError(t, store.Query(ctx).Where("id = ?", event.ID).First(&stored).Error)
		assert.Equal(t, requests.CategoryWeb, stored.RequestCategory)
		assert.Equal(t, "GET", stored.HTTPMethod)
		assert.Equal(t, requests.Unknown, stored.Browser)
		assert.True(t, stored.VisitedAt.Equal(time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)))
	})

	t.Run("rejects events without a session", func(t *testing.T) {
		err := store.Insert(ctx, &requests.RequestEvent{Path: "/"})
		assert.ErrorIs(t, err, requests.ErrMissingSession)
	})
}

func TestStoreInsertBatchSkipsInvalid(t *testing.T) {
	store := testsupport.SetupTestStore(t)
	ctx := context.Background()

	events := []requests.RequestEvent{
		{Path: "/a", SessionID: "s1"},
		{Path: "/b"},
		{Path: "/c", SessionID: "s2", RequestCategory: requests.CategoryAPI},
	}
	stored, err := store.InsertBatch(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStoreClampsOversizedColumns(t *testing.T) {
	store := testsupport.SetupTestStore(t)
	ctx := context.Background()

	visitor := strings.Repeat("v", 100)
	event := &requests.RequestEvent{
		Path:      "/" + strings.Repeat("p", 3000),
		Referrer:  "https://example.com/?q=" + strings.Repeat("é", 3000),
		PageTitle: strings.Repeat("t", 600),
		SessionID: "sess-long",
		VisitorID: &visitor,
	}
	stored, err := store.InsertBatch(ctx, []requests.RequestEvent{*event})
	require.NoError(t, err)
	require.Equal(t, 1, stored)

	var row requests.RequestEvent
	require.NoError(t, store.Query(ctx).Where("session_id = ?", "sess-long").First(&row).Error)
	assert.Len(t, row.Path, requests.MaxPathLength)
	assert.Equal(t, requests.MaxPathLength, utf8.RuneCountInString(row.Referrer))
	assert.True(t, utf8.ValidString(row.Referrer))
	assert.Len(t, row.PageTitle, requests.MaxPageTitleLength)
	require.NotNil(t, row.VisitorID)
	assert.Len(t, *row.VisitorID, 64)
}

func TestStoreInsertBatchFallsBackToSingleRows(t *testing.T) {
	store := testsupport.SetupTestStore(t)
	ctx := context.Background()

	first := &requests.RequestEvent{Path: "/", SessionID: "s0"}
	require.NoError(t, store.Insert(ctx, first))

	events := []requests.RequestEvent{
		{Path: "/a", SessionID: "s1"},
		{ID: first.ID, Path: "/dup", SessionID: "s2"},
		{Path: "/c", SessionID: "s3"},
	}
	stored, err := store.InsertBatch(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestStoreInsertBatchFailsWhenNothingIsStored(t *testing.T) {
	store := testsupport.SetupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.DB().Migrator().DropTable(requests.DefaultTableName))

	stored, err := store.InsertBatch(ctx, []requests.RequestEvent{
		{Path: "/a", SessionID: "s1"},
		{Path: "/b", SessionID: "s2"},
	})
	require.Error(t, err)
	assert.Zero(t, stored)
	assert.NoError(t, store.Ping(ctx))
}

func TestStorePrune(t *testing.T) {
	store := testsupport.SetupTestStore(t)
	db := store.DB()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		testsupport.CreateRequestEvent(t, db, "old", "/old", now.AddDate(0, 0, -100))
	}
	testsupport.CreateRequestEvent(t, db, "new", "/new", now.AddDate(0, 0, -10))

	deleted, err := store.Prune(ctx, now.AddDate(0, 0, -90), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	oldest, err := store.OldestVisit(ctx)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.WithinDuration(t, now.AddDate(0, 0, -10), *oldest, time.Second)
}

func TestStoreOldestVisitEmpty(t *testing.T) {
	store := testsupport.SetupTestStore(t)

	oldest, err := store.OldestVisit(context.Background())
	require.NoError(t, err)
	assert.Nil(t, oldest)
}
