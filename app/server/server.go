package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"ragbase/app/api"
	"ragbase/app/middleware"
	"ragbase/bootstrap"
)

const shutdownTimeout = 10 * time.Second

// multipart framing on top of the file itself
const uploadOverhead = 1 << 20

func newFiber(bodyLimit int) *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler:          api.ErrorHandler,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
	})
}

// Server runs the public API and the internal callback listener. They are
// separate apps so the callback route is never reachable from the public port.
type Server struct {
	listenAddr   string
	callbackAddr string
	public       *fiber.App
	internal     *fiber.App
	logger       *slog.Logger
}

func NewServer(a *bootstrap.App) *Server {
	s := &Server{
		listenAddr:   a.Config.ServerAddr,
		callbackAddr: a.Config.CallbackAddr,
		public:       newFiber(int(a.Config.MaxUploadBytes) + uploadOverhead),
		internal:     newFiber(fiber.DefaultBodyLimit),
		logger:       a.Logger,
	}

	var (
		checkHandler    = api.NewCheckHandler(a.Pings())
		documentHandler = api.NewDocumentHandler(a.Orchestrator, a.Logger)
		queryHandler    = api.NewQueryHandler(a.Orchestrator)
		configHandler   = api.NewConfigHandler(a.Profile)
		callbackHandler = api.NewCallbackHandler(a.Orchestrator)
		check           = s.public.Group("/check")
		apiv1           = s.public.Group("/api/v1")
	)

	if a.Redis != nil {
		apiv1.Use(middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Redis:  a.Redis,
			Limit:  a.Config.RateLimit.Limit,
			Window: a.Config.RateLimit.Window,
		}))
	}

	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Get("/ready", checkHandler.HandleReady)
	apiv1.Post("/documents", documentHandler.HandleUpload)
	apiv1.Get("/documents/:id", documentHandler.HandleStatus)
	apiv1.Post("/query", queryHandler.HandleQuery)
	apiv1.Get("/config", configHandler.HandleGetConfig)

	s.internal.Get("/check/healthy", checkHandler.HandleHealthy)
	s.internal.Post("/internal/callback", callbackHandler.HandleCallback)

	return s
}

func (s *Server) Public() *fiber.App   { return s.public }
func (s *Server) Internal() *fiber.App { return s.internal }

// Run serves both listeners until Stop is called or one of them fails.
func (s *Server) Run() error {
	var g errgroup.Group
	g.Go(func() error {
		s.logger.Info("public api listening", "addr", s.listenAddr)
		return s.public.Listen(s.listenAddr)
	})
	g.Go(func() error {
		s.logger.Info("callback listener listening", "addr", s.callbackAddr)
		return s.internal.Listen(s.callbackAddr)
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := errors.Join(
		s.public.ShutdownWithContext(ctx),
		s.internal.ShutdownWithContext(ctx),
	)
	s.logger.Info("server stopped")
	return err
}
