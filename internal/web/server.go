// Package web serves the MAC-table search pages, the audit log and the JSON
// endpoints used to trigger and follow background runs.
package web

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/template/html/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mactrack/internal/db"
	"mactrack/internal/poller"
	"mactrack/internal/tasks"
)

const (
	searchLimit = 1000
	logsLimit   = 50
)

// Collector is the part of the poller the web surface triggers.
type Collector interface {
	CollectConfigured(ctx context.Context) (poller.Result, error)
	CollectManual(ctx context.Context, network, community string) (poller.Result, error)
}

// Purger is the part of the retention manager the web surface triggers.
type Purger interface {
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
	PurgeAll(ctx context.Context) (int64, error)
}

type Options struct {
	RetentionDays int
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type Server struct {
	ctx       context.Context
	store     *db.Store
	collector Collector
	purger    Purger
	tasks     *tasks.Tracker
	opts      Options
	logger    *zap.Logger
}

// NewServer wires the handlers. Background runs started from a request use
// ctx rather than the request context, so they outlive the request and stop
// when ctx is cancelled at shutdown.
func NewServer(ctx context.Context, store *db.Store, collector Collector, purger Purger, tracker *tasks.Tracker, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ctx:       ctx,
		store:     store,
		collector: collector,
		purger:    purger,
		tasks:     tracker,
		opts:      opts,
		logger:    logger.Named("web"),
	}
}

// NewEngine loads the page templates from dir with the helpers they use.
func NewEngine(dir string, loc *time.Location) *html.Engine {
	engine := html.New(dir, ".html")
	engine.AddFunc("fmtTime", func(t time.Time) string {
		if loc != nil {
			t = t.In(loc)
		}
		return t.Format("2006-01-02 15:04:05")
	})
	engine.AddFunc("fmtTimePtr", func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		if loc != nil {
			return t.In(loc).Format("2006-01-02 15:04:05")
		}
		return t.Format("2006-01-02 15:04:05")
	})
	return engine
}

// SetupRoutes registers every route on app.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/", s.index)
	app.Get("/search", s.search)
	app.Get("/by_date", s.byDate)
	app.Get("/logs", s.logs)
	app.Get("/cleanup", s.cleanupPage)
	app.Post("/cleanup", s.startCleanup)
	app.Get("/trigger", s.trigger)
	app.Post("/manual_collect", s.manualCollect)
	app.Get("/task_status/:id", s.taskStatus)

	api := app.Group("/api")
	api.Get("/entries", s.apiEntries)
	api.Get("/dates", s.apiDates)
	api.Get("/logs", s.apiLogs)

	if s.opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
}
