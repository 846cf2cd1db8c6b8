package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/barryq93/wisdomgraph/internal/db"
	"github.com/barryq93/wisdomgraph/internal/metrics"
	"github.com/barryq93/wisdomgraph/internal/querylog"
	"github.com/barryq93/wisdomgraph/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Application struct {
	config   Config
	service  *db.Service
	logged   db.Runner
	runner   db.Runner
	dlq      *DeadLetterQueue
	metrics  *metrics.Collectors
	registry *prometheus.Registry
	cache    *statsCache
	logFile  string
	shutdown chan struct{}
	wg       sync.WaitGroup
	server   *http.Server
	now      func() time.Time
}

// NewApplication wires the graph service, query log, metrics and dead-letter
// queue. The Neo4j driver itself is created on the first query.
func NewApplication(config Config, serviceOpts ...db.Option) (*Application, error) {
	utils.SetLogLevel(config.GlobalConfig.LogLevel)

	qcfg, err := querylog.Configure(config.QueryLogging)
	if err != nil {
		return nil, fmt.Errorf("configuring query log: %w", err)
	}

	m := metrics.New()
	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering go collector: %w", err)
	}

	opts := append([]db.Option{
		db.WithMetrics(m),
		db.WithRedactFields(qcfg.RedactFields),
	}, serviceOpts...)
	service, err := db.NewService(config.Neo4j, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating graph service: %w", err)
	}

	logged := querylog.NewLogged(service, querylog.WithCollectors(m))
	dlq := NewDeadLetterQueue(config.GlobalConfig.LogPath, config.GlobalConfig.EncryptionKey, qcfg.RedactFields, m.DeadLetterLength)

	app := &Application{
		config:   config,
		service:  service,
		logged:   logged,
		runner:   &deadLetterRunner{inner: logged, dlq: dlq},
		dlq:      dlq,
		metrics:  m,
		registry: registry,
		cache:    newStatsCache(),
		logFile:  qcfg.LogFile,
		shutdown: make(chan struct{}),
		now:      time.Now,
	}

	if qcfg.LogToFile {
		app.wg.Add(1)
		go app.watchQueryLog(qcfg.LogFile)
	}
	return app, nil
}

// Runner is the query path for callers: timed, logged, and dead-lettered on failed writes.
func (app *Application) Runner() db.Runner {
	return app.runner
}

func (app *Application) Service() *db.Service {
	return app.service
}

func (app *Application) DeadLetters() *DeadLetterQueue {
	return app.dlq
}

// ReplayDeadLetters re-runs the queued writes through the logged service.
// Letters that fail again stay queued rather than being added twice.
func (app *Application) ReplayDeadLetters(ctx context.Context) (ReplayResult, error) {
	return app.dlq.Replay(ctx, app.logged)
}

func (app *Application) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestContext)
	r.Use(AccessLog)

	r.Get("/health", app.healthHandler)
	r.With(app.RateLimitMiddleware, app.BasicAuth).
		Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	r.Route("/admin", func(r chi.Router) {
		r.Use(app.RateLimitMiddleware)
		r.Use(app.BasicAuth)

		r.Get("/queries/stats", app.queryStatsHandler)
		r.Get("/queries/logs", app.queryLogsHandler)
		r.Get("/queries/daily", app.dailyStatsHandler)
		r.Get("/queries/summary", app.summaryHandler)
		r.Get("/queries/{name}", app.queryDetailHandler)
		r.Get("/graph/labels", app.graphLabelsHandler)
		r.Get("/dead-letters", app.deadLettersHandler)
		r.Post("/dead-letters/replay", app.replayHandler)
	})
	return r
}

// Start serves the router on the configured port in the background.
func (app *Application) Start() *http.Server {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.GlobalConfig.Port),
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.server = server

	if app.config.GlobalConfig.UseHTTPS {
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS13}
		go func() {
			logrus.Infof("HTTPS server listening on %s", server.Addr)
			err := server.ListenAndServeTLS(app.config.GlobalConfig.CertFile, app.config.GlobalConfig.KeyFile)
			if err != nil && err != http.ErrServerClosed {
				logrus.Errorf("HTTPS server failed: %v", err)
			}
		}()
	} else {
		go func() {
			logrus.Infof("HTTP server listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.Errorf("HTTP server failed: %v", err)
			}
		}()
	}
	return server
}

// Shutdown stops the server and watcher and closes the driver and query log.
func (app *Application) Shutdown() {
	close(app.shutdown)

	timeout := time.Duration(app.config.GlobalConfig.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if app.server != nil {
		if err := app.server.Shutdown(ctx); err != nil {
			logrus.Errorf("HTTP server shutdown failed: %v", err)
		}
	}
	app.wg.Wait()

	if err := app.service.Close(ctx); err != nil {
		logrus.Errorf("Failed to close Neo4j driver: %v", err)
	}
	if err := querylog.Close(); err != nil {
		logrus.Errorf("Failed to close query log: %v", err)
	}
}
