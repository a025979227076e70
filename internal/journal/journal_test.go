package journal

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/notionviews/agent/internal/tracking"
)

func TestMemoryRecentNewestFirst(t *testing.T) {
	t.Parallel()

	j := NewMemory()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.Record(context.Background(), tracking.ViewRecord{ID: id}))
	}

	recent, err := j.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "c", recent[0].ID)
	require.Equal(t, "b", recent[1].ID)

	all, err := j.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestPostgresRecordInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	j, err := NewPostgresWithPool(mock, "page_views")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := tracking.ViewRecord{
		ID:         "uuid-v7",
		PageID:     "24de54b2-d72f-808f-b2cf-e6f47cf1876a",
		DatabaseID: "db-id",
		URL:        "https://www.notion.so/Roadmap-24de54b2d72f808fb2cfe6f47cf1876a",
		Trigger:    tracking.TriggerNavigation,
		TrackedAt:  now,
		NewViews:   12,
		OK:         true,
	}

	mock.ExpectExec("INSERT INTO page_views").
		WithArgs(
			rec.ID,
			rec.PageID,
			rec.DatabaseID,
			rec.URL,
			string(rec.Trigger),
			rec.TrackedAt,
			rec.NewViews,
			rec.OK,
			rec.ErrorText,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, j.Record(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	j, err := NewPostgresWithPool(mock, "page_views")
	require.NoError(t, err)
	require.Error(t, j.Record(context.Background(), tracking.ViewRecord{}))
}

func TestPostgresRejectsBadTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresWithPool(mock, "page_views; DROP TABLE")
	require.Error(t, err)
}

func TestPostgresRecentScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	j, err := NewPostgresWithPool(mock, "page_views")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "page_id", "database_id", "url", "trigger_kind", "tracked_at", "new_views", "ok", "error_text",
	}).AddRow("id-1", "page-1", "", "https://notion.so/x", "scan", now, 3, true, "")

	mock.ExpectQuery("SELECT id, page_id, database_id, url, trigger_kind").
		WithArgs(10).
		WillReturnRows(rows)

	recent, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "id-1", recent[0].ID)
	require.Equal(t, tracking.TriggerScan, recent[0].Trigger)
	require.Equal(t, 3, recent[0].NewViews)
	require.NoError(t, mock.ExpectationsWereMet())
}
