package services

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	MONITORING_SVC          = "monitoring_svc"
	SERVICE_NAME            = "focus_api"
	DEFAULT_PROMETHEUS_PORT = 2112
)

// Session Metrics
var (
	sessionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "focus_sessions_started_total",
			Help: "Total focus sessions started",
		},
	)

	sessionsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focus_sessions_finished_total",
			Help: "Total focus sessions finished, by outcome",
		},
		[]string{"outcome"},
	)
)

// Enforcement Metrics
var (
	enforcementAppliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enforcement_applies_total",
			Help: "Total attempts to apply the effective restriction set",
		},
		[]string{"result"},
	)

	enforcementEffectiveTargets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "enforcement_effective_targets",
			Help: "Size of the currently effective restriction set",
		},
	)
)

// Stats Metrics
var (
	xpAwardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stats_xp_awarded_total",
			Help: "Total XP awarded across all processed sessions",
		},
	)

	achievementsUnlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stats_achievements_unlocked_total",
			Help: "Total achievements unlocked",
		},
	)

	rewardsRolledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_rewards_rolled_total",
			Help: "Variable rewards granted, by kind",
		},
		[]string{"kind"},
	)
)

// Sync Metrics
var (
	syncPushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_pushes_total",
			Help: "Push attempts against the realtime backend, by result",
		},
		[]string{"result"},
	)

	syncConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_conflicts_total",
			Help: "Version conflicts resolved during push, by entity kind",
		},
		[]string{"kind"},
	)

	syncRemoteAppliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_remote_applies_total",
			Help: "Remote records applied locally, by entity kind",
		},
		[]string{"kind"},
	)

	syncQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Pending pushes queued while the backend is unreachable",
		},
	)
)

// HTTP Metrics
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"endpoint", "method", "status"},
	)
)

// System Metrics
var (
	heapAllocBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heap_alloc_bytes",
			Help: "Heap memory allocated in bytes",
		},
	)

	gcTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gc_total",
			Help: "Total number of garbage collections",
		},
	)
)

type MonitoringService struct {
	appContext.DefaultService

	port     int
	register *prometheus.Registry

	closed      chan struct{}
	server      *fiber.App
	lastGCCount uint32
}

func (svc *MonitoringService) Id() string {
	return MONITORING_SVC
}

func (svc *MonitoringService) Start() error {
	svc.closed = make(chan struct{}, 1)

	port, err := strconv.Atoi(os.Getenv("PROMETHEUS_PORT"))
	if err != nil {
		port = DEFAULT_PROMETHEUS_PORT
	}
	svc.port = port

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(
		sessionsStartedTotal,
		sessionsFinishedTotal,
		enforcementAppliesTotal,
		enforcementEffectiveTargets,
		xpAwardedTotal,
		achievementsUnlockedTotal,
		rewardsRolledTotal,
		syncPushesTotal,
		syncConflictsTotal,
		syncRemoteAppliesTotal,
		syncQueueDepth,
		httpRequestsTotal,
		httpRequestDurationSeconds,
		heapAllocBytes,
		gcTotal,
	)
	svc.register = reg

	go svc.updateMemoryMetrics()

	svc.server = fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
		},
	})
	svc.server.Use(recover.New())

	svc.server.Get("/metrics", svc.metricsHandler)
	svc.server.Get("/health", svc.healthHandler)

	log.Info().Int("port", svc.port).Msg("Prometheus metrics server started")
	return svc.server.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *MonitoringService) Shutdown() {
	svc.closed <- struct{}{}
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

func (svc *MonitoringService) metricsHandler(c *fiber.Ctx) error {
	handler := promhttp.HandlerFor(svc.register, promhttp.HandlerOpts{})
	return adaptor.HTTPHandler(handler)(c)
}

func (svc *MonitoringService) healthHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "healthy",
		"service":   SERVICE_NAME,
		"timestamp": time.Now().Unix(),
	})
}

// updateMemoryMetrics refreshes runtime memory metrics every 15 seconds.
func (svc *MonitoringService) updateMemoryMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			heapAllocBytes.Set(float64(m.Alloc))
			if m.NumGC > svc.lastGCCount {
				gcTotal.Add(float64(m.NumGC - svc.lastGCCount))
				svc.lastGCCount = m.NumGC
			}

		case <-svc.closed:
			return
		}
	}
}

// MonitoringMiddleware records request metrics for the local API surface.
func MonitoringMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		endpoint := c.Route().Path
		method := c.Method()
		status := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(endpoint, method, status).Observe(time.Since(start).Seconds())

		return err
	}
}
