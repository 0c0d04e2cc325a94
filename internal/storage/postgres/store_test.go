package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-haul/internal/haul"
)

const haulID = "0190b0e0-0000-7000-8000-000000000001"

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func sampleHaul() haul.Haul {
	now := time.Unix(1700000000, 0).UTC()
	return haul.Haul{
		ID:             haulID,
		Scrapes:        []haul.ScrapeResult{},
		ScrapeCapacity: haul.ScrapeCapacity,
		CreatedAt:      now,
		ExpiresAt:      now.Add(24 * time.Hour),
		OwnerQuotaKey:  "k",
		Version:        1,
	}
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
	_, err = New(context.Background(), Config{})
	require.ErrorContains(t, err, "store.dsn")
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS hauls").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateHaul(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	h := sampleHaul()
	mock.ExpectExec("INSERT INTO hauls").
		WithArgs(h.ID, pgxmock.AnyArg(), h.CreatedAt, h.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.CreateHaul(context.Background(), h))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHaul(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	h := sampleHaul()
	h.Scrapes = []haul.ScrapeResult{{ResultID: "r1", SourceURL: "https://www.rightmove.co.uk/properties/1"}}
	doc, err := haul.EncodeHaul(h)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(selectHaulSQL)).
		WithArgs(h.ID).
		WillReturnRows(pgxmock.NewRows([]string{"doc", "version"}).AddRow(doc, int64(7)))

	got, err := store.GetHaul(context.Background(), h.ID)
	require.NoError(t, err)
	require.Equal(t, int64(7), got.Version)
	require.Len(t, got.Scrapes, 1)
	require.Equal(t, h.ExpiresAt, got.ExpiresAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHaulNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectHaulSQL)).WithArgs(haulID).WillReturnError(pgx.ErrNoRows)
	_, err := store.GetHaul(context.Background(), haulID)
	require.True(t, errors.Is(err, haul.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateHaul(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "swap wins", affected: 1},
		{name: "stale version", affected: 0, wantErr: haul.ErrConflict},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store, mock := newMockStore(t)
			h := sampleHaul()
			h.Version = 4
			mock.ExpectExec("UPDATE hauls SET doc").
				WithArgs(pgxmock.AnyArg(), h.ID, int64(4)).
				WillReturnResult(pgxmock.NewResult("UPDATE", tc.affected))

			got, err := store.UpdateHaul(context.Background(), h)
			if tc.wantErr != nil {
				require.True(t, errors.Is(err, tc.wantErr))
			} else {
				require.NoError(t, err)
				require.Equal(t, int64(5), got.Version)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestScrapeStore(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	res := haul.ScrapeResult{
		ResultID:  "abc",
		SourceURL: "https://www.zoopla.co.uk/for-sale/details/1",
		Listing:   haul.NewListing("https://www.zoopla.co.uk/for-sale/details/1"),
		AddedAt:   time.Unix(1700000000, 0).UTC(),
	}
	doc, err := haul.EncodeScrape(res)
	require.NoError(t, err)

	newer := res
	newer.AddedAt = res.AddedAt.Add(time.Hour)
	newerDoc, err := haul.EncodeScrape(newer)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(insertScrapeSQL)).
		WithArgs(res.ResultID, res.SourceURL, doc, res.AddedAt).
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))
	// A conflicting insert yields the stored doc rather than the new one.
	mock.ExpectQuery(regexp.QuoteMeta(insertScrapeSQL)).
		WithArgs(newer.ResultID, newer.SourceURL, newerDoc, newer.AddedAt).
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))
	mock.ExpectQuery(regexp.QuoteMeta(selectScrapeSQL)).
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))
	mock.ExpectQuery(regexp.QuoteMeta(selectScrapeSQL)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	ctx := context.Background()
	saved, err := store.SaveScrape(ctx, res)
	require.NoError(t, err)
	require.Equal(t, res.AddedAt, saved.AddedAt)
	kept, err := store.SaveScrape(ctx, newer)
	require.NoError(t, err)
	require.Equal(t, res.AddedAt, kept.AddedAt)
	got, err := store.GetScrape(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, res.SourceURL, got.SourceURL)
	_, err = store.GetScrape(ctx, "missing")
	require.True(t, errors.Is(err, haul.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaConsume(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	window := 24 * time.Hour

	mock.ExpectQuery("INSERT INTO haul_quotas").
		WithArgs("key", now, now.Add(-window), 10).
		WillReturnRows(pgxmock.NewRows([]string{"hauls_created"}).AddRow(3))
	mock.ExpectQuery("INSERT INTO haul_quotas").
		WithArgs("key", now, now.Add(-window), 10).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO haul_quotas").
		WithArgs("key", now, now.Add(-window), 10).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("UPDATE haul_quotas SET hauls_created").
		WithArgs("key").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	ok, err := store.Consume(ctx, "key", now, window, 10)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Consume(ctx, "key", now, window, 10)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.Consume(ctx, "key", now, window, 10)
	require.ErrorContains(t, err, "connection reset")

	ok, err = store.Consume(ctx, "key", now, window, 0)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Release(ctx, "key"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
