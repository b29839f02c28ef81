// Package server exposes a trained or pretrained encoder over HTTP:
// embedding extraction, the merged vocabulary, the model registry and
// version info.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/umencoder/ume/checkpoint"
	"github.com/umencoder/ume/encoder"
	"github.com/umencoder/ume/envconfig"
	"github.com/umencoder/ume/metrics"
	"github.com/umencoder/ume/version"
)

// Server serves one loaded encoder.
type Server struct {
	enc   *encoder.Encoder
	model string
}

func NewServer(enc *encoder.Encoder, model string) *Server {
	return &Server{enc: enc, model: model}
}

// GenerateRoutes builds the HTTP router.
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(cors.New(corsConfig))

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "Ume is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "Ume is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	r.POST("/api/embed", s.EmbedHandler)
	r.GET("/api/vocab", s.VocabHandler)
	r.GET("/api/models", s.ModelsHandler)

	return r
}

// metricsRecorder builds the encoder's step-metric sink: structured
// logging, fanned out to the sqlite database when UME_METRICS_DB is
// set. The returned closer flushes the database.
func metricsRecorder() (metrics.Recorder, func() error, error) {
	logged := metrics.NewSlogRecorder(nil)

	path := envconfig.MetricsDB()
	if path == "" {
		return logged, func() error { return nil }, nil
	}

	db, err := metrics.OpenSQLiteRecorder(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening metrics database %s: %w", path, err)
	}
	slog.Info("persisting metrics", "path", path, "run", db.RunID())
	return metrics.Multi{logged, db}, db.Close, nil
}

// Serve loads the named pretrained encoder and serves it on ln until
// the listener closes.
func Serve(ln net.Listener, model string) error {
	level := envconfig.LogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Info("starting ume server", "version", version.Version, "addr", ln.Addr(), "model", model)
	slog.Info("server config", "env", envconfig.Values())

	recorder, closeRecorder, err := metricsRecorder()
	if err != nil {
		return err
	}
	defer closeRecorder()

	client := checkpoint.NewClient(envconfig.Models())
	flash := envconfig.FlashAttention(false)
	enc, err := encoder.FromPretrained(context.Background(), model, client, envconfig.Device(), &flash,
		encoder.WithRecorder(recorder))
	if err != nil {
		return fmt.Errorf("loading %s: %w", model, err)
	}
	enc.Freeze()

	srv := &http.Server{Handler: NewServer(enc, model).GenerateRoutes()}
	return srv.Serve(ln)
}
