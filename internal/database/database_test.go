package database

import (
	"context"
	"testing"
	"time"

	"price-watcher/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedProduct(t *testing.T, db *DB) (*models.User, *models.Store, *models.Product) {
	t.Helper()
	ctx := context.Background()
	u := &models.User{Username: "ana", Email: "ana@example.com"}
	require.NoError(t, db.CreateUser(ctx, u))
	s := &models.Store{Name: "Lazada Philippines", Platform: "lazada", BaseURL: "https://www.lazada.com.ph"}
	require.NoError(t, db.CreateStore(ctx, s))
	p := &models.Product{UserID: u.ID, StoreID: s.ID, Name: "Phone", URL: "https://www.lazada.com.ph/products/phone-i1.html", IsActive: true}
	require.NoError(t, db.CreateProduct(ctx, p))
	return u, s, p
}

func saveSnap(t *testing.T, db *DB, productID int64, price string, at time.Time, available bool) models.PriceSnapshot {
	t.Helper()
	snap := models.PriceSnapshot{
		ProductID:   productID,
		Price:       decimal.RequireFromString(price),
		IsAvailable: available,
		ScrapedAt:   at,
	}
	require.NoError(t, db.SaveScrape(context.Background(), &snap, ""))
	return snap
}

func TestProducts_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, store, p := seedProduct(t, db)

	got, err := db.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Phone", got.Name)
	assert.Equal(t, store.ID, got.StoreID)
	assert.Equal(t, 60, got.ScrapeFrequencyMinutes)
	assert.Nil(t, got.LastScraped)
	assert.False(t, got.TargetPrice.Valid)

	gotStore, err := db.GetStore(ctx, store.ID)
	require.NoError(t, err)
	assert.Equal(t, "PH", gotStore.Country)

	_, err = db.GetProduct(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = db.GetUser(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSaveScrape_UpdatesProduct(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, _, p := seedProduct(t, db)

	discount := 12
	snap := models.PriceSnapshot{
		ProductID:          p.ID,
		Price:              decimal.RequireFromString("1299.50"),
		OriginalPrice:      decimal.NewNullDecimal(decimal.RequireFromString("1476.70")),
		DiscountPercentage: &discount,
		IsAvailable:        true,
		StockLevel:         "In Stock",
		Rating:             decimal.NewNullDecimal(decimal.RequireFromString("4.8")),
		ScrapedAt:          base,
		ScrapeDuration:     1.25,
	}
	require.NoError(t, db.SaveScrape(ctx, &snap, "https://img.example.com/p.jpg"))
	assert.NotZero(t, snap.ID)

	latest, err := db.LatestSnapshot(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Price.Equal(decimal.RequireFromString("1299.50")))
	assert.Equal(t, "1299.5", latest.Price.String())
	assert.True(t, latest.OriginalPrice.Valid)
	require.NotNil(t, latest.DiscountPercentage)
	assert.Equal(t, 12, *latest.DiscountPercentage)
	assert.Nil(t, latest.ReviewCount)
	assert.True(t, latest.ScrapedAt.Equal(base))

	got, err := db.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastScraped)
	assert.True(t, got.LastScraped.Equal(base))
	assert.Equal(t, "https://img.example.com/p.jpg", got.ImageURL)

	// imagem vazia não apaga a anterior
	saveSnap(t, db, p.ID, "1300", base.Add(time.Hour), true)
	got, err = db.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/p.jpg", got.ImageURL)
}

func TestSaveScrape_UnknownProductRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	snap := models.PriceSnapshot{ProductID: 42, Price: decimal.NewFromInt(10), ScrapedAt: base}
	err := db.SaveScrape(ctx, &snap, "")
	assert.ErrorIs(t, err, models.ErrNotFound)

	latest, err := db.LatestSnapshot(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestDueProducts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, _, p := seedProduct(t, db)

	due, err := db.DueProducts(ctx, base)
	require.NoError(t, err)
	require.Len(t, due, 1)

	saveSnap(t, db, p.ID, "100", base, true)
	due, err = db.DueProducts(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = db.DueProducts(ctx, base.Add(60*time.Minute))
	require.NoError(t, err)
	assert.Len(t, due, 1)

	require.NoError(t, db.DeactivateProduct(ctx, p.ID))
	due, err = db.DueProducts(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSnapshotQueries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, _, p := seedProduct(t, db)

	s1 := saveSnap(t, db, p.ID, "100", base.Add(-48*time.Hour), true)
	s2 := saveSnap(t, db, p.ID, "110", base.Add(-25*time.Hour), false)
	s3 := saveSnap(t, db, p.ID, "120", base.Add(-time.Hour), true)
	s4 := saveSnap(t, db, p.ID, "130", base, true)

	latest, err := db.LatestSnapshot(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, s4.ID, latest.ID)

	prev, err := db.PreviousSnapshot(ctx, s4)
	require.NoError(t, err)
	assert.Equal(t, s3.ID, prev.ID)

	prev, err = db.PreviousSnapshot(ctx, s1)
	require.NoError(t, err)
	assert.Nil(t, prev)

	ref, err := db.LatestSnapshotAtOrBefore(ctx, p.ID, base.Add(-24*time.Hour), s4.ID)
	require.NoError(t, err)
	assert.Equal(t, s2.ID, ref.ID)

	ref, err = db.LatestSnapshotAtOrBefore(ctx, p.ID, base, s4.ID)
	require.NoError(t, err)
	assert.Equal(t, s3.ID, ref.ID)

	all, err := db.Snapshots(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, s4.ID, all[0].ID)

	window, err := db.SnapshotsBetween(ctx, base.Add(-26*time.Hour), base)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, s2.ID, window[0].ID)
}

func TestPruneSnapshots_KeepsNewestBeforeCutoff(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u, s, p := seedProduct(t, db)

	other := &models.Product{UserID: u.ID, StoreID: s.ID, Name: "Case", URL: "https://www.lazada.com.ph/products/case-i2.html", IsActive: true}
	require.NoError(t, db.CreateProduct(ctx, other))

	cutoff := base.Add(-90 * 24 * time.Hour)
	saveSnap(t, db, p.ID, "100", cutoff.Add(-72*time.Hour), true)
	saveSnap(t, db, p.ID, "101", cutoff.Add(-48*time.Hour), true)
	keep := saveSnap(t, db, p.ID, "102", cutoff.Add(-24*time.Hour), true)
	atCutoff := saveSnap(t, db, p.ID, "103", cutoff, true)
	recent := saveSnap(t, db, p.ID, "104", base, true)

	// produto só com snapshots antigos mantém o último
	saveSnap(t, db, other.ID, "50", cutoff.Add(-10*24*time.Hour), true)
	otherKeep := saveSnap(t, db, other.ID, "51", cutoff.Add(-5*24*time.Hour), true)

	deleted, err := db.PruneSnapshots(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	remaining, err := db.Snapshots(ctx, p.ID)
	require.NoError(t, err)
	ids := []int64{}
	for _, r := range remaining {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{recent.ID, atCutoff.ID, keep.ID}, ids)

	latest, err := db.LatestSnapshot(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, otherKeep.ID, latest.ID)

	// segunda execução não remove mais nada
	deleted, err = db.PruneSnapshots(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestTriggerClaimIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u, _, p := seedProduct(t, db)
	snap := saveSnap(t, db, p.ID, "90", base, true)

	alert := &models.Alert{UserID: u.ID, ProductID: p.ID, Type: models.AlertBelow,
		Threshold: decimal.NewFromInt(100), IsActive: true, EmailEnabled: true}
	require.NoError(t, db.CreateAlert(ctx, alert))

	claimed, err := db.ClaimTrigger(ctx, alert.ID, snap.ID, base)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = db.ClaimTrigger(ctx, alert.ID, snap.ID, base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, claimed)

	outcome := models.TriggerOutcome{EmailSent: false, WebhookSent: true, Errors: []string{"Email failed: smtp down"}}
	require.NoError(t, db.CompleteTrigger(ctx, alert.ID, snap.ID, base, outcome))
	require.NoError(t, db.CompleteTrigger(ctx, alert.ID, snap.ID, base, outcome))

	got, err := db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TriggeredCount)
	require.NotNil(t, got.LastTriggered)
	assert.True(t, got.LastTriggered.Equal(base))

	n, err := db.TriggerCount(ctx, alert.ID, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCompleteTrigger_LastTriggeredOnlyMovesForward(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u, _, p := seedProduct(t, db)
	newer := saveSnap(t, db, p.ID, "90", base, true)
	older := saveSnap(t, db, p.ID, "95", base.Add(-time.Hour), true)

	alert := &models.Alert{UserID: u.ID, ProductID: p.ID, Type: models.AlertBelow,
		Threshold: decimal.NewFromInt(100), IsActive: true}
	require.NoError(t, db.CreateAlert(ctx, alert))

	for _, s := range []models.PriceSnapshot{newer, older} {
		claimed, err := db.ClaimTrigger(ctx, alert.ID, s.ID, s.ScrapedAt)
		require.NoError(t, err)
		require.True(t, claimed)
		require.NoError(t, db.CompleteTrigger(ctx, alert.ID, s.ID, s.ScrapedAt, models.TriggerOutcome{}))
	}

	got, err := db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TriggeredCount)
	assert.True(t, got.LastTriggered.Equal(base))
}

func TestActiveAlerts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u, _, p := seedProduct(t, db)

	active := &models.Alert{UserID: u.ID, ProductID: p.ID, Type: models.AlertChange, Threshold: decimal.NewFromInt(10), IsActive: true}
	inactive := &models.Alert{UserID: u.ID, ProductID: p.ID, Type: models.AlertAbove, Threshold: decimal.NewFromInt(10)}
	require.NoError(t, db.CreateAlert(ctx, active))
	require.NoError(t, db.CreateAlert(ctx, inactive))

	alerts, err := db.ActiveAlerts(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertChange, alerts[0].Type)
	assert.True(t, alerts[0].Threshold.Equal(decimal.NewFromInt(10)))

	err = db.CreateAlert(ctx, &models.Alert{UserID: u.ID, ProductID: p.ID, Type: "sideways"})
	assert.Error(t, err)
}

func TestScrapeRunsBetween(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, _, p := seedProduct(t, db)

	runs := []*models.ScrapeRun{
		{ProductID: p.ID, JobID: "j1", Attempt: 1, StartedAt: base, Duration: 1.5, Success: false, Error: "timeout"},
		{ProductID: p.ID, JobID: "j1", Attempt: 2, StartedAt: base.Add(time.Minute), Duration: 2.5, Success: true},
		{ProductID: p.ID, JobID: "j2", Attempt: 1, StartedAt: base.Add(-48 * time.Hour), Success: true},
	}
	for _, r := range runs {
		require.NoError(t, db.RecordScrapeRun(ctx, r))
	}

	got, err := db.ScrapeRunsBetween(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Lazada Philippines", got[0].StoreName)
	assert.False(t, got[0].Success)
	assert.Equal(t, "timeout", got[0].Error)
	assert.True(t, got[1].Success)
}
