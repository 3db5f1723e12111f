package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"price-watcher/internal/api"
	"price-watcher/internal/bot"
	"price-watcher/internal/history"
	"price-watcher/internal/monitor"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Inicia o agendador, a API HTTP e o bot do Telegram",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(ctx)
		},
	}
}

func (a *app) run(ctx context.Context) error {
	log := a.logger
	reporter := history.NewReporter(a.db, log)
	retention := history.NewRetention(a.db, a.cfg.RetentionWindow(), log)

	a.monitor.Start()

	c := cron.New(cron.WithLogger(cronLogger{log}))
	if _, err := a.monitor.ScheduleDueScan(c, a.cfg.ScanSchedule); err != nil {
		return err
	}
	if _, err := c.AddFunc(a.cfg.RetentionSchedule, func() {
		if _, err := retention.Run(context.Background()); err != nil {
			log.Error("Erro na retenção de snapshots", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("RETENTION_SCHEDULE inválido: %w", err)
	}
	if _, err := c.AddFunc(a.cfg.ReportSchedule, func() {
		if _, err := reporter.Daily(context.Background(), time.Now()); err != nil {
			log.Error("Erro ao gerar relatório diário", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("REPORT_SCHEDULE inválido: %w", err)
	}
	c.Start()

	handler := api.NewHandler(a.monitor, reporter, a.registry)
	server := api.NewServer(a.cfg.HTTPAddr, api.NewRouter(handler, a.db, a.gatherer, log), log)
	server.Start()

	if a.telegram != nil {
		b := bot.New(a.telegram, a.monitor, reporter, a.registry, a.cfg.TelegramChatID, a.cfg.ResultTimeout, log)
		go b.Run(ctx, a.telegram)
	}

	log.Info("Monitor de preços iniciado",
		zap.Strings("sites", a.registry.SupportedDomains()),
		zap.Int("workers", a.cfg.Workers),
	)
	<-ctx.Done()
	log.Info("Encerrando...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	<-c.Stop().Done()
	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("erro ao encerrar servidor HTTP: %w", err))
	}
	if err := a.monitor.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("erro ao encerrar monitor: %w", err))
	}
	return errors.Join(errs...)
}

func scrapeCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "scrape [ids...]",
		Short: "Coleta os produtos indicados (ou todos os vencidos com --all) e espera o resultado",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			if !all && len(ids) == 0 {
				return errors.New("informe ao menos um id de produto ou use --all")
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			a.monitor.Start()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = a.monitor.Stop(ctx)
			}()

			var res monitor.BatchResult
			if all {
				res, err = a.monitor.ScrapeAllDue(cmd.Context())
			} else {
				res, err = a.monitor.ScrapeBatch(cmd.Context(), ids)
			}
			if err != nil {
				return err
			}
			renderBatch(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "coletar todos os produtos vencidos")
	return cmd
}

func pruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove snapshots fora da janela de retenção",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			deleted, err := history.NewRetention(a.db, a.cfg.RetentionWindow(), a.logger).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d snapshots removidos\n", deleted)
			return nil
		},
	}
}

func reportCommand() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Mostra o relatório diário de coletas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			day := time.Now().UTC()
			if date != "" {
				parsed, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("data inválida %q, use YYYY-MM-DD", date)
				}
				day = parsed
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			report, err := history.NewReporter(a.db, a.logger).Daily(cmd.Context(), day)
			if err != nil {
				return err
			}
			renderReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "dia no formato YYYY-MM-DD (padrão: hoje, UTC)")
	return cmd
}

func sitesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "Lista as lojas suportadas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			for _, d := range a.registry.SupportedDomains() {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("id de produto inválido: %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func renderBatch(w io.Writer, res monitor.BatchResult) {
	fmt.Fprintf(w, "Lote %s: %d produtos, %d ok, %d falhas\n", res.BatchID, res.Total, res.Success, res.Failed)
	if len(res.Errors) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Produto", "Erro"})
	for _, e := range res.Errors {
		t.AppendRow(table.Row{e.ProductID, e.Error})
	}
	t.Render()
}

func renderReport(w io.Writer, r *history.DailyReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Relatório " + r.Date)
	t.AppendRows([]table.Row{
		{"Coletas", r.TotalScrapes},
		{"Sucesso", r.SuccessfulScrapes},
		{"Falhas", r.FailedScrapes},
		{"Taxa de sucesso", fmt.Sprintf("%.2f%%", r.SuccessRate)},
		{"Duração média", fmt.Sprintf("%.2fs", r.AvgScrapeDuration)},
		{"Disponíveis", r.AvailableProducts},
		{"Indisponíveis", r.UnavailableProducts},
	})
	t.Render()

	if len(r.StoreBreakdown) == 0 {
		return
	}
	stores := table.NewWriter()
	stores.SetOutputMirror(w)
	stores.SetStyle(table.StyleLight)
	stores.AppendHeader(table.Row{"Loja", "Total", "Sucesso", "Falhas"})
	for _, s := range r.StoreBreakdown {
		stores.AppendRow(table.Row{s.Store, s.Total, s.Successful, s.Failed})
	}
	stores.Render()
}

// cronLogger adapta o zap.Logger à interface de log do cron
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("cron", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("cron", keysAndValues))
}
