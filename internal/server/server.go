// Package server exposes the fingerprint registry over HTTP.
package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/high-horse/fingerprint-server/internal/fingerprint"
)

const internalErrorMessage = "Internal server error"

// Options wires the HTTP layer.
type Options struct {
	Registry *fingerprint.Registry
	// Matcher encodes enrollment images.
	Matcher fingerprint.TemplateMatcher
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
	// AccessLog receives one line per request when set.
	AccessLog io.Writer
	// CaptureTimeout bounds GET /fingerprint/capture.
	CaptureTimeout time.Duration
	BodyLimit      int
}

// New builds the fiber app with every route registered.
func New(opts Options) *fiber.App {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = 30 * time.Second
	}
	log := opts.Logger.Named("http")

	cfg := fiber.Config{
		AppName:               "fingerprint-server",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(log),
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = opts.BodyLimit
	}
	app := fiber.New(cfg)

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	if opts.AccessLog != nil {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
			Output: opts.AccessLog,
		}))
	}
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}

	h := &handlers{
		registry:       opts.Registry,
		matcher:        opts.Matcher,
		logger:         log,
		captureTimeout: opts.CaptureTimeout,
	}
	fp := app.Group("/fingerprint")
	fp.Get("/devices", h.devices)
	fp.Get("/init", h.initialize)
	fp.Get("/capture", h.capture)
	fp.Post("/capture/start", h.startCapture)
	fp.Get("/capture/status", h.captureStatus)
	fp.Get("/capture/take", h.takeCapture)
	fp.Post("/capture/stop", h.stopCapture)
	fp.Post("/match", h.match)
	fp.Post("/templates", h.enroll)
	fp.Get("/status", h.status)
	fp.Get("/shutdown", h.shutdown)

	return app
}

// errorHandler maps domain errors to 400 with their code, fiber errors to
// their own status and everything else to an opaque 500.
func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fingerprint.Error
		if errors.As(err, &fe) {
			log.Warn("request failed",
				zap.String("path", c.Path()),
				zap.String("code", string(fe.Code)),
				zap.Error(err),
			)
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   true,
				Code:    string(fe.Code),
				Message: fe.Message,
			})
		}

		var e *fiber.Error
		if errors.As(err, &e) {
			return c.Status(e.Code).JSON(ErrorResponse{
				Error:   true,
				Message: e.Message,
			})
		}

		log.Error("unhandled request error", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   true,
			Message: internalErrorMessage,
		})
	}
}

func ok(c *fiber.Ctx, message string, data any) error {
	resp := Response{Data: data}
	if message != "" {
		resp.Message = &message
	}
	if data == nil {
		resp.Data = fiber.Map{}
	}
	return c.JSON(resp)
}
