// Package api expõe por HTTP o disparo de coletas e a consulta de jobs,
// lotes e relatórios
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"price-watcher/internal/history"
	"price-watcher/internal/monitor"

	"github.com/gin-gonic/gin"
)

// Scheduler é a parte do monitor usada pelos handlers
type Scheduler interface {
	ScrapeNow(productID int64) (*monitor.Job, error)
	SubmitBatch(productIDs []int64) (*monitor.Batch, error)
	SubmitAllDue(ctx context.Context) (*monitor.Batch, error)
	Job(id string) (*monitor.Job, bool)
	Batch(id string) (*monitor.Batch, bool)
}

// Reporter gera o relatório diário
type Reporter interface {
	Daily(ctx context.Context, day time.Time) (*history.DailyReport, error)
}

// SiteLister lista os domínios suportados
type SiteLister interface {
	SupportedDomains() []string
}

// Handler atende as rotas de coleta
type Handler struct {
	scheduler Scheduler
	reporter  Reporter
	sites     SiteLister
	now       func() time.Time
}

// NewHandler cria o handler
func NewHandler(scheduler Scheduler, reporter Reporter, sites SiteLister) *Handler {
	return &Handler{scheduler: scheduler, reporter: reporter, sites: sites, now: time.Now}
}

// BatchRequest é o corpo de POST /api/v1/scrape/batch
type BatchRequest struct {
	ProductIDs []int64 `json:"product_ids" binding:"required,min=1"`
}

func submitError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, monitor.ErrStopped) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ScrapeProduct trata POST /api/v1/products/:id/scrape
func (h *Handler) ScrapeProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id de produto inválido"})
		return
	}

	job, err := h.scheduler.ScrapeNow(id)
	if err != nil {
		submitError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     job.ID,
		"product_id": id,
		"status":     "accepted",
	})
}

// ScrapeBatch trata POST /api/v1/scrape/batch
func (h *Handler) ScrapeBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batch, err := h.scheduler.SubmitBatch(req.ProductIDs)
	if err != nil {
		submitError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id":      batch.ID,
		"product_count": len(batch.ProductIDs),
		"status":        "accepted",
	})
}

// ScrapeAll trata POST /api/v1/scrape/all
func (h *Handler) ScrapeAll(c *gin.Context) {
	batch, err := h.scheduler.SubmitAllDue(c.Request.Context())
	if err != nil {
		submitError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id":      batch.ID,
		"product_count": len(batch.ProductIDs),
		"status":        "accepted",
	})
}

// GetJob trata GET /api/v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	job, ok := h.scheduler.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job não encontrado"})
		return
	}
	c.JSON(http.StatusOK, job.Result())
}

// GetBatch trata GET /api/v1/batches/:id
func (h *Handler) GetBatch(c *gin.Context) {
	batch, ok := h.scheduler.Batch(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "lote não encontrado"})
		return
	}

	result, done := batch.Result()
	jobIDs := make([]string, 0, len(batch.Jobs))
	for _, job := range batch.Jobs {
		jobIDs = append(jobIDs, job.ID)
	}
	c.JSON(http.StatusOK, gin.H{
		"batch_id": result.BatchID,
		"done":     done,
		"total":    result.Total,
		"success":  result.Success,
		"failed":   result.Failed,
		"errors":   result.Errors,
		"job_ids":  jobIDs,
	})
}

// ListSites trata GET /api/v1/sites
func (h *Handler) ListSites(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sites": h.sites.SupportedDomains()})
}

// DailyReport trata GET /api/v1/reports/daily?date=YYYY-MM-DD
func (h *Handler) DailyReport(c *gin.Context) {
	day := h.now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "data inválida, use YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	report, err := h.reporter.Daily(c.Request.Context(), day)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao gerar relatório"})
		return
	}
	c.JSON(http.StatusOK, report)
}
