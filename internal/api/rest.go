package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Lumen/internal/api/uploads"
	"github.com/hbomb79/Lumen/internal/api/videos"
	"github.com/hbomb79/Lumen/internal/http/websocket"
	"github.com/hbomb79/Lumen/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/bytes"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logger.Get("API")

const shutdownTimeout = 10 * time.Second

type (
	RestConfig struct {
		HostAddr    string   `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
		CorsOrigins []string `yaml:"cors_origins" env:"API_CORS_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`

		// The largest request body accepted, in the format understood by echo's
		// body limit middleware (e.g. "2G").
		BodyLimit string `yaml:"body_limit" env:"API_BODY_LIMIT" env-default:"2G"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// Service is the union of the requirements of Lumen's controllers.
	Service interface {
		videos.Service
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole responsibility
	// is to create the routes Lumen exposes and to manage the activity websocket.
	RestGateway struct {
		*broadcaster
		config           *RestConfig
		ec               *echo.Echo
		socket           *websocket.SocketHub
		videoController  controller
		uploadController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the controllers.
func NewRestGateway(config *RestConfig, service Service, blobs uploads.BlobReader) (*RestGateway, error) {
	if _, err := bytes.Parse(config.BodyLimit); err != nil {
		return nil, fmt.Errorf("api body limit '%s' is invalid: %w", config.BodyLimit, err)
	}

	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true
	ec.HTTPErrorHandler = errorHandler

	socket := websocket.New(config.CorsOrigins)
	gateway := &RestGateway{
		broadcaster:      newBroadcaster(socket, service),
		config:           config,
		ec:               ec,
		socket:           socket,
		videoController:  videos.New(validator.New(), service),
		uploadController: uploads.New(blobs),
	}
	gateway.bindSocketCommands()

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: config.CorsOrigins}))
	ec.Use(middleware.BodyLimit(config.BodyLimit))
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/healthz/", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	ec.GET("/metrics/", echo.WrapHandler(promhttp.Handler()))

	ec.GET("/api/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	videos := ec.Group("/api/videos")
	gateway.videoController.SetRoutes(videos)

	uploads := ec.Group("/uploads")
	gateway.uploadController.SetRoutes(uploads)

	return gateway, nil
}

// Handler returns the HTTP handler for the gateway's routes.
func (gateway *RestGateway) Handler() http.Handler {
	return gateway.ec
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Emit(logger.INFO, "Listening on %s\n", gateway.config.HostAddr)
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := gateway.ec.Shutdown(shutdownCtx); err != nil {
			log.Emit(logger.WARNING, "Graceful shutdown of HTTP server failed: %v\n", err)
			gateway.ec.Close()
		}
	}()

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
