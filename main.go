package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/johnwmail/nshare/config"
	"github.com/johnwmail/nshare/handlers"
	"github.com/johnwmail/nshare/internal/expiry"
	"github.com/johnwmail/nshare/internal/metrics"
	"github.com/johnwmail/nshare/internal/services"
	"github.com/johnwmail/nshare/storage"
	"github.com/johnwmail/nshare/utils"

	// Lambda imports (only used when in Lambda mode)
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
)

// Version/build info (set via -ldflags at build time)
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "none"
)

// Lambda-specific variables
var (
	ginLambdaV1   *ginadapter.GinLambda
	ginLambdaV2   *ginadapter.GinLambdaV2
	ginLambdaOnce sync.Once
	lambdaLogger  = slog.Default()
)

// isLambdaEnvironment detects if running in AWS Lambda
func isLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// app holds the wired services behind the router
type app struct {
	cfg     *config.Config
	backend *storage.Backend
	metrics *metrics.Metrics
	sweeper *expiry.Sweeper
	pastes  *services.PasteService
	uploads *services.UploadService
	logger  *slog.Logger
}

// newApp wires the services onto an opened backend. now may be nil.
func newApp(cfg *config.Config, backend *storage.Backend, logger *slog.Logger, now func() time.Time) *app {
	if now == nil {
		now = time.Now
	}

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New()
	}

	sweeper := expiry.NewSweeper(now, cfg.SweepMinGap, logger)
	sweeper.Register("pastes", backend.Pastes.Sweep)
	sweeper.Register("upload_sessions", backend.Uploads.SweepSessions)
	sweeper.OnSwept = m.Swept

	deps := services.Deps{
		Sweeper: sweeper,
		Metrics: m,
		Logger:  logger,
		Now:     now,
	}
	pastes := services.NewPasteService(backend.Pastes, cfg, deps)
	uploads := services.NewUploadService(backend.Uploads, backend.Locker, pastes, cfg, deps)

	return &app{
		cfg:     cfg,
		backend: backend,
		metrics: m,
		sweeper: sweeper,
		pastes:  pastes,
		uploads: uploads,
		logger:  logger,
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	cfg.Version = Version
	cfg.BuildTime = BuildTime
	cfg.CommitHash = CommitHash

	logger := utils.SetupLogging(cfg.LogLevel, cfg.LogFile)
	slog.SetDefault(logger)
	lambdaLogger = logger

	logger.Info("Starting nshare",
		"version", Version,
		"build_time", BuildTime,
		"commit", CommitHash,
		"storage", cfg.Storage,
		"port", cfg.Port)

	// Set Gin mode based on environment
	if !utils.IsDebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	}
	if utils.IsDebugEnabled() {
		logger.Debug("Loaded config", "config", fmt.Sprintf("%+v", *cfg))
	}

	ctx := context.Background()
	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "storage", cfg.Storage, "error", err)
		os.Exit(1)
	}

	a := newApp(cfg, backend, logger, nil)
	router, err := setupRouter(a)
	if err != nil {
		logger.Error("Failed to set up router", "error", err)
		_ = backend.Close()
		os.Exit(1)
	}

	// Check if running in Lambda environment
	if isLambdaEnvironment() {
		logger.Info("Starting in AWS Lambda mode")
		ginLambdaOnce.Do(func() {
			ginLambdaV1 = ginadapter.New(router)
			ginLambdaV2 = ginadapter.NewV2(router)
		})
		lambda.Start(lambdaHandler)
		return
	}

	// Run in container/server mode
	logger.Info("Starting in HTTP server mode")
	runHTTPServer(router, a)
}

// lambdaHandler handles Lambda requests for both v1 and v2 formats
func lambdaHandler(ctx context.Context, event interface{}) (interface{}, error) {
	logger := lambdaLogger
	if ginLambdaV1 == nil || ginLambdaV2 == nil {
		logger.Error("Lambda adapters are not initialized")
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"error":"Lambda adapters are not initialized"}`,
			Headers:    map[string]string{"Content-Type": "application/json"},
		}, errors.New("lambda adapters are not initialized")
	}

	logger.Debug("Received event", "type", fmt.Sprintf("%T", event))

	// Convert event to JSON bytes for parsing
	eventBytes, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal event", "error", err)
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       "Failed to process event",
			Headers: map[string]string{
				"Content-Type": "text/plain",
			},
		}, err
	}

	// Try to parse as APIGatewayV2HTTPRequest first (for Lambda Function URLs and HTTP API)
	var reqV2 events.APIGatewayV2HTTPRequest
	if err := json.Unmarshal(eventBytes, &reqV2); err == nil && reqV2.RequestContext.HTTP.Method != "" {
		logger.Debug("Handling as APIGatewayV2HTTPRequest",
			"method", reqV2.RequestContext.HTTP.Method, "path", reqV2.RawPath)
		return ginLambdaV2.ProxyWithContext(ctx, reqV2)
	}

	// Try to parse as APIGatewayProxyRequest (for REST API and ALB)
	var reqV1 events.APIGatewayProxyRequest
	if err := json.Unmarshal(eventBytes, &reqV1); err == nil && reqV1.HTTPMethod != "" {
		logger.Debug("Handling as APIGatewayProxyRequest", "method", reqV1.HTTPMethod, "path", reqV1.Path)
		return ginLambdaV1.ProxyWithContext(ctx, reqV1)
	}

	logger.Warn("Unable to parse event as APIGateway v1 or v2 format", "event", string(eventBytes))

	// Console test events carry keys like key1, key2, key3
	var testEvent map[string]interface{}
	if err := json.Unmarshal(eventBytes, &testEvent); err == nil {
		if _, hasKey1 := testEvent["key1"]; hasKey1 {
			return events.APIGatewayV2HTTPResponse{
				StatusCode: http.StatusOK,
				Body:       `{"message": "nshare Lambda function is working! Use a real HTTP request or API Gateway integration."}`,
				Headers: map[string]string{
					"Content-Type": "application/json",
				},
			}, nil
		}
	}

	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "Unsupported event type - this function expects API Gateway or Lambda Function URL events",
		Headers: map[string]string{
			"Content-Type": "text/plain",
		},
	}, fmt.Errorf("unsupported event type: %T", event)
}

// setupRouter creates and configures the Gin router
func setupRouter(a *app) (*gin.Engine, error) {
	spec, err := handlers.ParseRateSpec(a.cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	pasteHandler := handlers.NewPasteHandler(a.pastes, a.logger)
	uploadHandler := handlers.NewUploadHandler(a.uploads, a.logger)
	systemHandler := handlers.NewSystemHandler(a.backend.Name, a.cfg.Version)

	router := gin.New()
	if err := router.SetTrustedProxies(a.cfg.TrustedProxyList()); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	// Panics and bare error statuses are rewritten as JSON so API clients
	// can always parse the error body.
	router.Use(handlers.RequestLogger(a.logger, a.metrics))
	router.Use(jsonRecovery(a.logger))
	router.Use(canonicalErrors(a.logger))
	router.Use(cors.New(corsConfig(a.cfg.CORSOrigins)))
	if limiter := handlers.NewRateLimiter(spec); limiter != nil {
		a.logger.Info("Rate limiting enabled", "limit", spec.Limit, "window", spec.Window)
		router.Use(limiter.Middleware())
	}

	router.POST("/paste", pasteHandler.Create)
	router.GET("/paste/:code", pasteHandler.Get)
	router.PUT("/paste", pasteHandler.Update)

	router.POST("/upload/start", uploadHandler.Start)
	router.POST("/upload/chunk", uploadHandler.Chunk)
	router.POST("/upload/complete", uploadHandler.Complete)

	router.GET("/health", systemHandler.Health)
	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	}

	// Global 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
	})

	return router, nil
}

// corsConfig allows every origin for "*" and otherwise the listed ones
func corsConfig(origins string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}

	var allowed []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, o)
		}
	}
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowed
	}
	return cfg
}

// jsonRecovery returns a middleware that recovers from panics and ensures
// the response is JSON formatted.
func jsonRecovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered", "panic", r, "path", c.Request.URL.Path)
				c.Header("Content-Type", "application/json; charset=utf-8")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}

// canonicalErrors ensures every response with status >= 400 carries a JSON
// {"error": "..."} body, whatever the handler wrote. Only error bodies are
// buffered; successful responses stream straight to the client.
func canonicalErrors(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		origWriter := c.Writer
		bcw := &bodyCaptureWriter{ResponseWriter: origWriter}
		c.Writer = bcw
		// A panic skips the rewrite below; restore the writer so the
		// recovery middleware writes straight through.
		defer func() { c.Writer = origWriter }()

		c.Next()

		status := bcw.Status()
		if status < 400 || bcw.Size() > 0 {
			return
		}

		buf := bcw.body.Bytes()
		ct := bcw.Header().Get("Content-Type")
		var msg string

		// If there is JSON body, try extracting its message/error
		if len(buf) > 0 && strings.Contains(ct, "application/json") {
			var parsed map[string]interface{}
			if err := json.Unmarshal(buf, &parsed); err == nil {
				if e, ok := parsed["error"].(string); ok {
					msg = e
				} else if m, ok := parsed["message"].(string); ok {
					msg = m
				}
			}
		}

		if msg == "" {
			if len(buf) > 0 {
				msg = string(bytes.TrimSpace(buf))
			} else if len(c.Errors) > 0 {
				msg = c.Errors.Last().Error()
			} else {
				msg = http.StatusText(status)
			}
		}

		origWriter.Header().Set("Content-Type", "application/json; charset=utf-8")
		origWriter.WriteHeader(status)
		out, _ := json.Marshal(gin.H{"error": msg})
		if _, err := origWriter.Write(out); err != nil {
			logger.Error("canonicalErrors: failed to write error response", "error", err)
		}
	}
}

// bodyCaptureWriter holds back the body of an error response so the
// middleware can rewrite it; other bodies pass through unbuffered.
type bodyCaptureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyCaptureWriter) capturing() bool {
	return w.Status() >= 400 && !w.ResponseWriter.Written()
}

// Write buffers error bodies and forwards everything else
func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	if w.capturing() {
		return w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// WriteString keeps gin's string renderers on the same path as Write
func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	if w.capturing() {
		return w.body.WriteString(s)
	}
	return w.ResponseWriter.WriteString(s)
}

// runHTTPServer starts the HTTP server and the background sweeper, then
// blocks until SIGINT or SIGTERM.
func runHTTPServer(router *gin.Engine, a *app) {
	logger := a.logger

	defer func() {
		if err := a.backend.Close(); err != nil {
			logger.Error("Error closing storage", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweeper.Run(ctx, a.cfg.SweepInterval)
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server started", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	case err := <-errCh:
		logger.Error("HTTP server error", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	} else {
		logger.Info("Server shutdown complete")
	}
	wg.Wait()
}
