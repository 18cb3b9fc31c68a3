package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	apihttp "epon-monitor/internal/api/http"
	"epon-monitor/internal/archive"
	"epon-monitor/internal/auth"
	"epon-monitor/internal/config"
	"epon-monitor/internal/monitor"
	monitornotify "epon-monitor/internal/monitor/notify"
	"epon-monitor/internal/observability/metrics"
	"epon-monitor/internal/simulator"
	"epon-monitor/internal/telemetry/cache"
	"epon-monitor/internal/telemetry/logstore"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const eventTimeLayout = "2006-01-02T15:04:05.000Z07:00"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)

	var db *sql.DB
	var archiveRepo *archive.Repository
	if cfg.ArchiveDatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.ArchiveDatabaseURL)
		if err != nil {
			logger.Fatalf("archive db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("archive db ping error: %v", err)
		}
		archiveRepo = archive.NewRepository(db)
		if err := archiveRepo.EnsureSchema(context.Background()); err != nil {
			logger.Fatalf("archive schema error: %v", err)
		}
	}

	metrics.Init(db, logger)

	store, err := logstore.New(cfg.LogPath, logstore.WithMaxLines(cfg.LogMaxLines))
	if err != nil {
		logger.Fatalf("log store error: %v", err)
	}

	stream := apihttp.NewHealthStream()
	notifiers := monitornotify.FanOut{stream}
	if cfg.NotifyWebhookURL != "" {
		channel, err := monitornotify.NewWebhookChannel(cfg.NotifyWebhookURL, cfg.NotifyTimeout)
		if err != nil {
			logger.Fatalf("health webhook error: %v", err)
		}
		tpl, err := monitornotify.NewTemplate(cfg.NotifyTemplate)
		if err != nil {
			logger.Fatalf("health template error: %v", err)
		}
		webhookNotifier, err := monitornotify.NewNotifier(channel, tpl,
			monitornotify.WithCooldown(cfg.NotifyCooldown),
			monitornotify.WithDedupeWindow(cfg.NotifyDedupeWindow),
			monitornotify.WithMinSeverity(cfg.NotifyMinSeverity),
		)
		if err != nil {
			logger.Fatalf("health notifier error: %v", err)
		}
		notifiers = append(notifiers, webhookNotifier)
	}

	var service *monitor.Service
	worker, err := cache.New(store, cfg.CachePath,
		cache.WithInterval(cfg.RefreshInterval),
		cache.WithFetchCount(cfg.FetchCount),
		cache.WithLogger(logger),
		cache.WithOnPersist(func(snap cache.Snapshot) {
			if service != nil {
				service.HandleRefresh(snap)
			}
		}),
	)
	if err != nil {
		logger.Fatalf("cache worker error: %v", err)
	}

	serviceOpts := []monitor.ServiceOption{
		monitor.WithAppender(store),
		monitor.WithNotifier(notifiers),
		monitor.WithLogger(logger),
	}
	if archiveRepo != nil {
		serviceOpts = append(serviceOpts, monitor.WithArchive(archiveRepo))
	}
	service, err = monitor.NewService(worker, serviceOpts...)
	if err != nil {
		logger.Fatalf("monitor service error: %v", err)
	}

	go worker.Start(context.Background())

	if cfg.Simulator.Enabled {
		seed := cfg.Simulator.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		generator := simulator.NewGenerator(cfg.Simulator.OLTID, cfg.Simulator.ONUCount, seed)
		go func() {
			ticker := time.NewTicker(cfg.Simulator.Interval)
			defer ticker.Stop()
			for tick := range ticker.C {
				eventTime := tick.UTC().Format(eventTimeLayout)
				for id := 1; id <= generator.ONUCount(); id++ {
					record := simulator.RenderNotification(eventTime, generator.Sample(id))
					if err := store.Append(record); err != nil {
						logger.Printf("simulator append error: %v", err)
					}
				}
			}
		}()
		logger.Printf("simulator running: olt=%s onus=%d interval=%s",
			cfg.Simulator.OLTID, generator.ONUCount(), cfg.Simulator.Interval)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/telemetry/snapshot", apihttp.NewSnapshotHandler(service))
	mux.Handle("/api/v1/devices/", apihttp.NewDeviceStatusHandler(service))
	mux.Handle("/api/v1/fleet/health", apihttp.NewFleetHealthHandler(service))
	mux.Handle("/api/v1/inject", apihttp.NewInjectHandler(service))
	mux.Handle("/api/v1/health/stream", stream)
	mux.Handle("/api/v1/health/transitions", apihttp.NewTransitionsHandler(archiveRepo))
	exportHandler := apihttp.NewExportFleetHandler(service)
	mux.Handle("/api/v1/exports/fleet.csv", exportHandler)
	mux.Handle("/api/v1/exports/fleet.xlsx", exportHandler)
	mux.Handle("/api/v1/exports/fleet.pdf", exportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working behind the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
