package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"price-watcher/internal/history"
	"price-watcher/internal/monitor"
	"price-watcher/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const helpText = `🤖 <b>Monitor de Preços</b>

<b>Comandos disponíveis:</b>

<b>/scrape &lt;id&gt;</b> - Coletar o preço de um produto agora
Exemplo: /scrape 1

<b>/scrapeall</b> - Coletar todos os produtos vencidos

<b>/status &lt;job_id&gt;</b> - Ver o estado de um job ou lote

<b>/report</b> - Relatório de coletas de hoje

<b>/sites</b> - Lojas suportadas

<b>/help</b> - Mostrar esta mensagem de ajuda
`

// Handle processa uma mensagem recebida
func (b *Bot) Handle(ctx context.Context, message *tgbotapi.Message) {
	command, args := parseCommand(message.Text)
	if command == "" {
		return
	}
	chatID := message.Chat.ID

	if !b.authorized(command, chatID) {
		b.logger.Warn("Comando de chat não autorizado", zap.Int64("chat_id", chatID), zap.String("command", command))
		_, _ = b.reply(chatID, "Você não está autorizado a usar este bot.", false)
		return
	}

	switch command {
	case "/start", "/help":
		_, _ = b.reply(chatID, helpText, true)
	case "/scrape":
		b.handleScrape(ctx, chatID, args)
	case "/scrapeall":
		b.handleScrapeAll(ctx, chatID)
	case "/status":
		b.handleStatus(chatID, args)
	case "/report":
		b.handleReport(ctx, chatID)
	case "/sites":
		b.handleSites(chatID)
	default:
		_, _ = b.reply(chatID, "Comando não reconhecido. Use /help para ver os comandos disponíveis.", false)
	}
}

func (b *Bot) handleScrape(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		_, _ = b.reply(chatID, "❌ Formato incorreto.\n\nUso: /scrape <id>\n\nExemplo: /scrape 1", false)
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		_, _ = b.reply(chatID, "❌ ID inválido.", false)
		return
	}

	job, err := b.scheduler.ScrapeNow(id)
	if err != nil {
		_, _ = b.reply(chatID, fmt.Sprintf("❌ Erro ao agendar coleta: %s", html.EscapeString(err.Error())), false)
		return
	}

	messageID, _ := b.reply(chatID, fmt.Sprintf("⏳ Coletando preço... (job <code>%s</code>)", job.ID), true)

	waitCtx, cancel := context.WithTimeout(ctx, b.waitTimeout)
	defer cancel()
	res, err := job.Wait(waitCtx)
	if err != nil {
		b.edit(chatID, messageID, fmt.Sprintf(
			"⏳ A coleta ainda está em andamento. Use /status %s para acompanhar.", job.ID))
		return
	}
	b.edit(chatID, messageID, formatJob(res))
}

func (b *Bot) handleScrapeAll(ctx context.Context, chatID int64) {
	batch, err := b.scheduler.SubmitAllDue(ctx)
	if err != nil {
		_, _ = b.reply(chatID, fmt.Sprintf("❌ Erro ao agendar coletas: %s", html.EscapeString(err.Error())), false)
		return
	}
	if len(batch.ProductIDs) == 0 {
		_, _ = b.reply(chatID, "📋 Nenhum produto pendente de coleta no momento.", false)
		return
	}
	_, _ = b.reply(chatID, fmt.Sprintf(
		"✅ %d coletas agendadas.\nLote: <code>%s</code>\n\nUse /status %s para acompanhar.",
		len(batch.ProductIDs), batch.ID, batch.ID), true)
}

func (b *Bot) handleStatus(chatID int64, args []string) {
	if len(args) < 1 {
		_, _ = b.reply(chatID, "❌ Formato incorreto.\n\nUso: /status <job_id>", false)
		return
	}
	id := args[0]

	if job, ok := b.scheduler.Job(id); ok {
		_, _ = b.reply(chatID, formatJob(job.Result()), true)
		return
	}
	if batch, ok := b.scheduler.Batch(id); ok {
		res, done := batch.Result()
		_, _ = b.reply(chatID, formatBatch(res, done), true)
		return
	}
	_, _ = b.reply(chatID, "❌ Job não encontrado. Jobs finalizados são esquecidos depois de um tempo.", false)
}

func (b *Bot) handleReport(ctx context.Context, chatID int64) {
	report, err := b.reporter.Daily(ctx, b.now())
	if err != nil {
		b.logger.Error("Erro ao gerar relatório", zap.Error(err))
		_, _ = b.reply(chatID, "❌ Erro ao gerar relatório.", false)
		return
	}
	_, _ = b.reply(chatID, formatReport(report), true)
}

func (b *Bot) handleSites(chatID int64) {
	domains := b.sites.SupportedDomains()
	if len(domains) == 0 {
		_, _ = b.reply(chatID, "Nenhuma loja suportada.", false)
		return
	}
	var sb strings.Builder
	sb.WriteString("🛒 <b>Lojas suportadas:</b>\n\n")
	for _, d := range domains {
		fmt.Fprintf(&sb, "• %s\n", html.EscapeString(d))
	}
	_, _ = b.reply(chatID, sb.String(), true)
}

// formatPrice formata o preço do resultado na moeda da loja, ou devolve o
// texto original se não for decimal
func formatPrice(raw, currency string) string {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return html.EscapeString(raw)
	}
	return notify.FormatMoney(d, currency)
}

func formatJob(r monitor.JobResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 <b>Job %s</b>\n\n", r.JobID)
	fmt.Fprintf(&sb, "Produto: %d\n", r.ProductID)
	fmt.Fprintf(&sb, "Estado: %s\n", statusLabel(r.Status))
	fmt.Fprintf(&sb, "Tentativas: %d\n", r.Attempts)

	switch r.Status {
	case monitor.JobSucceeded:
		fmt.Fprintf(&sb, "💰 <b>Preço atual: %s</b>\n", formatPrice(r.Price, r.Currency))
		if r.AlertsTriggered > 0 {
			fmt.Fprintf(&sb, "🔔 Alertas disparados: %d\n", r.AlertsTriggered)
		}
	case monitor.JobFailed:
		fmt.Fprintf(&sb, "❌ Erro: %s\n", html.EscapeString(r.Error))
	case monitor.JobRetryScheduled:
		fmt.Fprintf(&sb, "⚠️ Último erro: %s\n", html.EscapeString(r.Error))
		if r.NextAttemptAt != nil {
			fmt.Fprintf(&sb, "🕐 Próxima tentativa: %s UTC\n", r.NextAttemptAt.UTC().Format("02/01/2006 15:04:05"))
		}
	}
	return sb.String()
}

func statusLabel(s monitor.JobState) string {
	switch s {
	case monitor.JobPending:
		return "⏳ aguardando"
	case monitor.JobRunning:
		return "🔄 em execução"
	case monitor.JobRetryScheduled:
		return "🔁 nova tentativa agendada"
	case monitor.JobSucceeded:
		return "✅ concluído"
	case monitor.JobFailed:
		return "❌ falhou"
	}
	return string(s)
}

func formatBatch(r monitor.BatchResult, done bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📦 <b>Lote %s</b>\n\n", r.BatchID)
	fmt.Fprintf(&sb, "Produtos: %d\n", r.Total)
	if !done {
		sb.WriteString("Estado: 🔄 em andamento\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "✅ Sucesso: %d\n", r.Success)
	fmt.Fprintf(&sb, "❌ Falhas: %d\n", r.Failed)
	for _, e := range r.Errors {
		fmt.Fprintf(&sb, "• Produto %d: %s\n", e.ProductID, html.EscapeString(e.Error))
	}
	return sb.String()
}

func formatReport(r *history.DailyReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📈 <b>Relatório de %s</b>\n\n", r.Date)
	fmt.Fprintf(&sb, "Coletas: %d (%d ok, %d falhas)\n", r.TotalScrapes, r.SuccessfulScrapes, r.FailedScrapes)
	fmt.Fprintf(&sb, "Taxa de sucesso: %.2f%%\n", r.SuccessRate)
	fmt.Fprintf(&sb, "Duração média: %.2fs\n", r.AvgScrapeDuration)
	fmt.Fprintf(&sb, "Disponíveis: %d | Indisponíveis: %d\n", r.AvailableProducts, r.UnavailableProducts)
	if len(r.StoreBreakdown) > 0 {
		sb.WriteString("\n<b>Por loja:</b>\n")
		for _, s := range r.StoreBreakdown {
			fmt.Fprintf(&sb, "• %s: %d/%d\n", html.EscapeString(s.Store), s.Successful, s.Total)
		}
	}
	return sb.String()
}
