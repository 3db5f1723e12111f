package alerts

import (
	"testing"
	"time"

	"price-watcher/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func snap(id int64, price string, at time.Time, available bool) models.PriceSnapshot {
	return models.PriceSnapshot{
		ID:          id,
		ProductID:   1,
		Price:       decimal.RequireFromString(price),
		IsAvailable: available,
		ScrapedAt:   at,
	}
}

func alert(kind models.AlertType, threshold string) models.Alert {
	return models.Alert{
		ID:        7,
		ProductID: 1,
		Type:      kind,
		Threshold: decimal.RequireFromString(threshold),
		IsActive:  true,
	}
}

func TestEvaluate_BelowScenario(t *testing.T) {
	a := alert(models.AlertBelow, "90")
	history := []models.PriceSnapshot{
		snap(1, "100", now.Add(-2*time.Hour), true),
		snap(2, "95", now.Add(-time.Hour), true),
		snap(3, "80", now, true),
	}

	assert.False(t, Evaluate(a, history[:1], now).Triggered)
	assert.False(t, Evaluate(a, history[:2], now).Triggered)
	assert.True(t, Evaluate(a, history, now).Triggered)
}

func TestEvaluate_BelowIsInclusive(t *testing.T) {
	d := Evaluate(alert(models.AlertBelow, "90"), []models.PriceSnapshot{snap(1, "90.00", now, true)}, now)
	assert.True(t, d.Triggered)
}

func TestEvaluate_Above(t *testing.T) {
	a := alert(models.AlertAbove, "500")
	assert.True(t, Evaluate(a, []models.PriceSnapshot{snap(1, "500", now, true)}, now).Triggered)
	assert.False(t, Evaluate(a, []models.PriceSnapshot{snap(1, "499.99", now, true)}, now).Triggered)
}

func TestEvaluate_UsesNewestRegardlessOfOrder(t *testing.T) {
	a := alert(models.AlertBelow, "90")
	newestFirst := []models.PriceSnapshot{
		snap(3, "95", now, true),
		snap(2, "80", now.Add(-time.Hour), true),
	}
	assert.False(t, Evaluate(a, newestFirst, now).Triggered)
}

func TestEvaluate_ChangeWithoutReference(t *testing.T) {
	a := alert(models.AlertChange, "10")
	history := []models.PriceSnapshot{
		snap(1, "100", now.Add(-50*time.Minute), true),
		snap(2, "200", now.Add(-10*time.Minute), true),
		snap(3, "300", now, true),
	}

	d := Evaluate(a, history, now)
	assert.False(t, d.Triggered)
	assert.Nil(t, d.Reference)
}

func TestEvaluate_ChangeUsesMostRecentSnapshotOlderThanWindow(t *testing.T) {
	a := alert(models.AlertChange, "10")
	history := []models.PriceSnapshot{
		snap(1, "50", now.Add(-72*time.Hour), true),
		snap(2, "100", now.Add(-25*time.Hour), true),
		snap(3, "104", now.Add(-2*time.Hour), true),
		snap(4, "111", now, true),
	}

	d := Evaluate(a, history, now)
	require.NotNil(t, d.Reference)
	assert.Equal(t, int64(2), d.Reference.ID)
	assert.True(t, d.Triggered)
	assert.Equal(t, "11", d.ChangePercent.String())
}

func TestEvaluate_ChangeIsAbsolute(t *testing.T) {
	a := alert(models.AlertChange, "10")
	history := []models.PriceSnapshot{
		snap(1, "100", now.Add(-ChangeWindow), true),
		snap(2, "90", now, true),
	}
	assert.True(t, Evaluate(a, history, now).Triggered)

	history[1] = snap(2, "91", now, true)
	assert.False(t, Evaluate(a, history, now).Triggered)
}

func TestEvaluate_AvailableScenario(t *testing.T) {
	a := alert(models.AlertAvailable, "0")
	outOfStock := snap(1, "100", now.Add(-2*time.Hour), false)
	backInStock := snap(2, "100", now.Add(-time.Hour), true)
	stillInStock := snap(3, "100", now, true)

	assert.True(t, Evaluate(a, []models.PriceSnapshot{outOfStock, backInStock}, now).Triggered)
	assert.False(t, Evaluate(a, []models.PriceSnapshot{outOfStock, backInStock, stillInStock}, now).Triggered)
}

func TestEvaluate_AvailableFiresWithoutPriorTrigger(t *testing.T) {
	a := alert(models.AlertAvailable, "0")
	require.Nil(t, a.LastTriggered)

	d := Evaluate(a, []models.PriceSnapshot{snap(1, "10", now.Add(-time.Hour), false), snap(2, "10", now, true)}, now)
	assert.True(t, d.Triggered)
}

func TestEvaluate_AvailableNeedsPrevious(t *testing.T) {
	a := alert(models.AlertAvailable, "0")
	assert.False(t, Evaluate(a, []models.PriceSnapshot{snap(1, "10", now, true)}, now).Triggered)
}

func TestEvaluate_InactiveOrUnknown(t *testing.T) {
	a := alert(models.AlertBelow, "1000")
	a.IsActive = false
	assert.False(t, Evaluate(a, []models.PriceSnapshot{snap(1, "1", now, true)}, now).Triggered)

	unknown := alert("sideways", "1")
	assert.False(t, Evaluate(unknown, []models.PriceSnapshot{snap(1, "1", now, true)}, now).Triggered)

	assert.False(t, Evaluate(alert(models.AlertBelow, "1"), nil, now).Triggered)
}

func TestEvaluate_DoesNotReorderCallerHistory(t *testing.T) {
	history := []models.PriceSnapshot{
		snap(1, "100", now.Add(-time.Hour), true),
		snap(2, "80", now, true),
	}
	Evaluate(alert(models.AlertBelow, "90"), history, now)
	assert.Equal(t, int64(1), history[0].ID)
}
