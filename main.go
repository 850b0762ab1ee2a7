package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/api"
	"prism-board/board"
	"prism-board/config"
	"prism-board/domain"
	"prism-board/events"
	"prism-board/realtime"
	"prism-board/storage"
	"prism-board/subscription"
)

type taskBackend interface {
	board.TaskLister
	board.TaskService
	board.Directory
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	client, err := api.NewClient(api.Config{BaseURL: cfg.APIBaseURL, Token: cfg.AuthToken, Logger: logger})
	if err != nil {
		log.Fatalf("api: %v", err)
	}

	var rc *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}

	var backend taskBackend = client
	var cache *storage.Cache
	if rc != nil {
		cache = storage.NewCache(client, rc, cfg.CacheTTL, logger)
		backend = cache
	}

	var transport realtime.Transport
	endpoint := ""
	switch cfg.Transport {
	case config.TransportRedis:
		transport = &realtime.RedisTransport{Client: rc, Logger: logger}
	default:
		endpoint, err = realtime.EndpointURL(cfg.APIBaseURL)
		if err != nil {
			log.Fatalf("realtime endpoint: %v", err)
		}
		transport = &realtime.WebSocketTransport{
			Dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
			Logger: logger,
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mgr := realtime.NewManager(realtime.Config{
		Endpoint:       endpoint,
		Token:          cfg.AuthToken,
		BaseDelay:      cfg.ReconnectBaseDelay,
		MaxDelay:       cfg.ReconnectMaxDelay,
		MaxAttempts:    cfg.ReconnectMaxAttempts,
		ReconnectPause: cfg.ReconnectPause,
		DialTimeout:    cfg.DialTimeout,
	}, transport, logger, realtime.NewMetrics(reg))
	registry := subscription.NewRegistry(mgr, logger)
	bus := events.NewBus(registry, mgr, logger)

	engine := board.NewEngine(board.Config{GroupID: cfg.GroupID, PageSize: cfg.PageSize}, backend,
		board.NotifierFunc(func(n board.Notification) { notify(logger, n) }), logger)
	engine.OnChange(func() {
		st := engine.State()
		logger.WithFields(log.Fields{
			"todo":  len(st[domain.StatusTodo]),
			"doing": len(st[domain.StatusDoing]),
			"done":  len(st[domain.StatusDone]),
		}).Debug("board: state changed")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reload := func() {
		if cache != nil {
			cache.Invalidate(ctx, cfg.GroupID)
		}
		loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := engine.Load(loadCtx, backend); err != nil {
			logger.WithError(err).Error("board: load failed")
			if api.IsAuthError(err) {
				stop()
			}
			return
		}
		if err := engine.LoadCandidates(loadCtx, backend); err != nil {
			logger.WithError(err).Warn("board: assignee and expense lookups unavailable")
		}
	}

	unsubTasks := bus.Subscribe(events.TopicTasks, func(ev domain.Event) {
		if cache != nil && !ev.IsError() {
			cache.Invalidate(ctx, cfg.GroupID)
		}
		engine.ApplyEvent(ev)
	})
	defer unsubTasks()

	support := bus.Hook("support", events.TopicSupportMessages, cfg.EventHistorySize)
	support.OnEvent(func(ev domain.Event) {
		logger.WithFields(log.Fields{"type": ev.Type, "action": ev.Action, "entity": ev.ID()}).Info("support: message received")
	})
	defer support.Close()

	connectedOnce := false
	mgr.OnStateChange(func(s realtime.State) {
		entry := logger.WithFields(log.Fields{"state": s.String(), "attempts": mgr.Attempts()})
		switch {
		case s == realtime.Connected && connectedOnce:
			entry.Info("realtime: reconnected, reloading board")
			go reload()
		case s == realtime.Connected:
			connectedOnce = true
			entry.Info("realtime: connected")
		case s == realtime.Disconnected && mgr.Exhausted():
			entry.Warn("realtime: giving up until the next manual reconnect")
		default:
			entry.Debug("realtime: state changed")
		}
	})

	reload()
	mgr.Connect()

	var srv *echo.Echo
	if cfg.MetricsPort != "" {
		srv = newStatusServer(mgr, engine, support, reg)
		go func() {
			if err := srv.Start(":" + cfg.MetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("status server stopped")
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	mgr.Disconnect()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("status server shutdown")
		}
	}
}

func notify(logger *log.Logger, n board.Notification) {
	entry := logger.WithFields(log.Fields{"kind": n.Kind.String(), "task": n.TaskID})
	if n.Failed() {
		entry.WithError(n.Err).Warn(n.Message)
		return
	}
	entry.Info(n.Message)
}

type healthResponse struct {
	State       string `json:"state"`
	Exhausted   bool   `json:"exhausted"`
	Attempts    int    `json:"attempts"`
	SupportSeen int    `json:"supportMessages"`
}

func newStatusServer(mgr *realtime.Manager, engine *board.Engine, support *events.Hook, reg *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		resp := healthResponse{
			State:       mgr.State().String(),
			Exhausted:   mgr.Exhausted(),
			Attempts:    mgr.Attempts(),
			SupportSeen: support.History().Len(),
		}
		status := http.StatusOK
		if mgr.State() != realtime.Connected {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, resp)
	})
	e.GET("/board", func(c echo.Context) error {
		return c.JSON(http.StatusOK, engine.State())
	})
	e.GET("/board/candidates", func(c echo.Context) error {
		cands, ok := engine.Candidates()
		if !ok {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "candidates not loaded"})
		}
		return c.JSON(http.StatusOK, cands)
	})
	e.POST("/reconnect", func(c echo.Context) error {
		mgr.Reconnect()
		return c.NoContent(http.StatusAccepted)
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	return e
}
