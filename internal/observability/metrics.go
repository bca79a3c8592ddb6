package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests     *CounterVec
	apiLatency      *HistogramVec
	llmRequests     *CounterVec
	llmLatency      *HistogramVec
	llmTokens       *CounterVec
	llmCost         *CounterVec
	jobRuns         *CounterVec
	jobDuration     *HistogramVec
	jobQueueDepth   *GaugeVec
	budgetRejected  *CounterVec
	embedBatches    *CounterVec
	sectionOutcomes *CounterVec
	dbStats         *GaugeVec
	redisUp         *GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	return time.Duration(envutil.IntClamp("METRICS_SCRAPE_INTERVAL_SECONDS", 10, 1, 3600)) * time.Second
}

// Init builds the process-wide registry when METRICS_ENABLED is set and
// returns nil otherwise. Every method is nil-safe.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = newMetrics()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("pdfsum_api_requests_total", "API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec("pdfsum_api_request_duration_seconds", "API latency in seconds.",
			[]string{"method", "route"}, []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}),
		llmRequests: NewCounterVec("pdfsum_llm_requests_total", "Provider calls by model/endpoint/status.", []string{"model", "endpoint", "status"}),
		llmLatency: NewHistogramVec("pdfsum_llm_request_duration_seconds", "Provider call latency in seconds.",
			[]string{"model", "endpoint"}, []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}),
		llmTokens: NewCounterVec("pdfsum_llm_tokens_total", "Provider tokens by model/direction.", []string{"model", "direction"}),
		llmCost:   NewCounterVec("pdfsum_llm_cost_usd_total", "Estimated provider spend in USD.", []string{"model"}),
		jobRuns:   NewCounterVec("pdfsum_job_runs_total", "Finished jobs by type/status.", []string{"job_type", "status"}),
		jobDuration: NewHistogramVec("pdfsum_job_duration_seconds", "Job wall time from claim to terminal state.",
			[]string{"job_type", "status"}, []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}),
		jobQueueDepth:   NewGaugeVec("pdfsum_job_queue_depth", "Jobs by status.", []string{"status"}),
		budgetRejected:  NewCounterVec("pdfsum_budget_rejections_total", "Provider calls refused by the cost guard.", []string{"kind"}),
		embedBatches:    NewCounterVec("pdfsum_embedding_batches_total", "Embedding batches by outcome.", []string{"status"}),
		sectionOutcomes: NewCounterVec("pdfsum_summary_sections_total", "Generated sections by outcome.", []string{"status"}),
		dbStats:         NewGaugeVec("pdfsum_db_pool", "database/sql pool stats.", []string{"stat"}),
		redisUp:         NewGaugeVec("pdfsum_redis_up", "1 when the last Redis ping succeeded.", []string{"addr"}),
	}
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

type promWriter interface {
	WritePrometheus(w io.Writer) error
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, p := range []promWriter{
		m.apiRequests, m.apiLatency,
		m.llmRequests, m.llmLatency, m.llmTokens, m.llmCost,
		m.jobRuns, m.jobDuration, m.jobQueueDepth,
		m.budgetRejected, m.embedBatches, m.sectionOutcomes,
		m.dbStats, m.redisUp,
	} {
		if err := p.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) ObserveLLMRequest(model, endpoint, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.llmRequests.Inc(model, endpoint, status)
	if dur > 0 {
		m.llmLatency.Observe(dur.Seconds(), model, endpoint)
	}
	if inputTokens > 0 {
		m.llmTokens.Add(float64(inputTokens), model, "input")
	}
	if outputTokens > 0 {
		m.llmTokens.Add(float64(outputTokens), model, "output")
	}
}

// AddCost records spend that the cost guard has already priced.
func (m *Metrics) AddCost(model string, usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.llmCost.Add(usd, model)
}

func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.Inc(jobType, status)
	if dur > 0 {
		m.jobDuration.Observe(dur.Seconds(), jobType, status)
	}
}

func (m *Metrics) IncBudgetRejection(kind string) {
	if m == nil {
		return
	}
	m.budgetRejected.Inc(kind)
}

func (m *Metrics) IncEmbedBatch(status string) {
	if m == nil {
		return
	}
	m.embedBatches.Inc(status)
}

func (m *Metrics) IncSection(status string) {
	if m == nil {
		return
	}
	m.sectionOutcomes.Inc(status)
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.dbStats.Set(float64(stats.OpenConnections), "open_connections")
				m.dbStats.Set(float64(stats.InUse), "in_use")
				m.dbStats.Set(float64(stats.Idle), "idle")
				m.dbStats.Set(float64(stats.WaitCount), "wait_count")
				m.dbStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	addr := rdb.Options().Addr
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0, addr)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1, addr)
			}
		}
	}()
}

func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	statuses := []string{"pending", "running", "completed", "failed", "cancelled"}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range statuses {
					m.jobQueueDepth.Set(0, s)
				}
				var rows []struct {
					Status string
					Count  int64
				}
				if err := db.WithContext(ctx).
					Model(&types.JobRun{}).
					Select("status, count(*) as count").
					Group("status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: job queue depth query failed", "error", err)
					}
					continue
				}
				for _, row := range rows {
					m.jobQueueDepth.Set(float64(row.Count), row.Status)
				}
			}
		}
	}()
}
