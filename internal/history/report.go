package history

import (
	"context"
	"math"
	"sort"
	"time"

	"price-watcher/internal/models"

	"go.uber.org/zap"
)

// DailyReport resume as coletas de um dia (UTC)
type DailyReport struct {
	Date                string       `json:"date"`
	TotalScrapes        int          `json:"total_scrapes"`
	SuccessfulScrapes   int          `json:"successful_scrapes"`
	FailedScrapes       int          `json:"failed_scrapes"`
	SuccessRate         float64      `json:"success_rate"`
	AvgScrapeDuration   float64      `json:"avg_scrape_duration"`
	AvailableProducts   int          `json:"available_products"`
	UnavailableProducts int          `json:"unavailable_products"`
	StoreBreakdown      []StoreStats `json:"store_breakdown"`
}

// StoreStats são as tentativas de coleta de uma loja no dia
type StoreStats struct {
	Store      string `json:"store"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
}

// ReportStore é a parte do banco lida pelo relatório
type ReportStore interface {
	ScrapeRunsBetween(ctx context.Context, from, to time.Time) ([]models.ScrapeRun, error)
	SnapshotsBetween(ctx context.Context, from, to time.Time) ([]models.PriceSnapshot, error)
}

// Reporter monta relatórios a partir do banco. Só leitura.
type Reporter struct {
	store  ReportStore
	logger *zap.Logger
}

// NewReporter cria um Reporter
func NewReporter(store ReportStore, logger *zap.Logger) *Reporter {
	return &Reporter{store: store, logger: logger}
}

// DayBounds retorna [início, fim) do dia de t em UTC
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// Daily gera o relatório do dia que contém day
func (r *Reporter) Daily(ctx context.Context, day time.Time) (*DailyReport, error) {
	from, to := DayBounds(day)
	runs, err := r.store.ScrapeRunsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	snaps, err := r.store.SnapshotsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	report := BuildReport(from, runs, snaps)
	r.logger.Info("Relatório de coletas gerado",
		zap.String("date", report.Date),
		zap.Int("total", report.TotalScrapes),
		zap.Int("successful", report.SuccessfulScrapes),
	)
	return &report, nil
}

// BuildReport agrega tentativas e snapshots de um dia. A taxa de sucesso é
// 0 quando não houve tentativas.
func BuildReport(day time.Time, runs []models.ScrapeRun, snaps []models.PriceSnapshot) DailyReport {
	start, _ := DayBounds(day)
	report := DailyReport{
		Date:           start.Format(time.DateOnly),
		StoreBreakdown: []StoreStats{},
	}

	stores := map[string]*StoreStats{}
	for _, run := range runs {
		report.TotalScrapes++
		name := run.StoreName
		if name == "" {
			name = "unknown"
		}
		st, ok := stores[name]
		if !ok {
			st = &StoreStats{Store: name}
			stores[name] = st
		}
		st.Total++
		if run.Success {
			report.SuccessfulScrapes++
			st.Successful++
		} else {
			st.Failed++
		}
	}
	report.FailedScrapes = report.TotalScrapes - report.SuccessfulScrapes
	if report.TotalScrapes > 0 {
		report.SuccessRate = round2(float64(report.SuccessfulScrapes) / float64(report.TotalScrapes) * 100)
	}

	var duration float64
	for _, s := range snaps {
		duration += s.ScrapeDuration
		if s.IsAvailable {
			report.AvailableProducts++
		} else {
			report.UnavailableProducts++
		}
	}
	if len(snaps) > 0 {
		report.AvgScrapeDuration = round2(duration / float64(len(snaps)))
	}

	for _, st := range stores {
		report.StoreBreakdown = append(report.StoreBreakdown, *st)
	}
	sort.Slice(report.StoreBreakdown, func(i, j int) bool {
		return report.StoreBreakdown[i].Store < report.StoreBreakdown[j].Store
	})
	return report
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
