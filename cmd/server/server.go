package main

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/spottenn/wifi-talkie/internal/recording"
	"github.com/spottenn/wifi-talkie/internal/state"
	"github.com/spottenn/wifi-talkie/internal/stream"
)

// Config holds the server's runtime knobs, all sourced from WALKIE_* env
// vars.
type Config struct {
	Addr               string
	RecordingEnabled   bool
	RecordingsDir      string
	MonitorBufferBytes int
}

// ConfigFromEnv reads configuration from the environment, falling back to
// defaults that match the reference deployment.
func ConfigFromEnv() Config {
	cfg := Config{
		Addr:               ":8080",
		RecordingEnabled:   true,
		RecordingsDir:      "recordings",
		MonitorBufferBytes: 256 * 1024,
	}
	if v := os.Getenv("WALKIE_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("WALKIE_RECORDING"); v != "" {
		cfg.RecordingEnabled = v == "1"
	}
	if v := os.Getenv("WALKIE_RECORDINGS_DIR"); v != "" {
		cfg.RecordingsDir = v
	}
	if v := os.Getenv("WALKIE_MONITOR_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MonitorBufferBytes = n
		}
	}
	return cfg
}

// Server wires the relay together: the session registry, the recording sink,
// the monitor buffer and the HTTP surface.
type Server struct {
	stateManager *state.Manager
	recorder     *recording.Recorder
	monitor      *stream.Buffer
	router       *gin.Engine
}

// NewServer builds a relay server from the given configuration.
func NewServer(cfg Config) *Server {
	s := &Server{
		stateManager: state.NewManager(),
		recorder:     recording.NewRecorder(cfg.RecordingEnabled, cfg.RecordingsDir),
		monitor:      stream.NewBuffer(cfg.MonitorBufferBytes),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.cidMiddleware())
	r.Use(s.otelMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	r.GET("/api", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "WiFi Walkie-Talkie relay",
			"version": "1.0.0",
		})
	})

	r.GET("/api/stats", s.handleStats)
	r.GET("/api/sessions", s.handleSessions)
	r.GET("/api/monitor", s.handleMonitor)

	r.GET("/walkie", s.handleWebSocket)

	s.router = r
	return s
}

func (s *Server) handleStats(c *gin.Context) {
	stats := s.stateManager.Stats()
	stats.RecordingActive = s.recorder.Active()
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.stateManager.SessionInfos()})
}

// handleMonitor streams the retained tail of relayed audio plus everything
// relayed afterwards, until the client goes away. Raw PCM, diagnostics only.
func (s *Server) handleMonitor(c *gin.Context) {
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)

	rc := s.monitor.NewReader(c.Request.Context())
	defer func() { _ = rc.Close() }()

	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			c.Writer.Flush()
		}
		if err != nil {
			return
		}
	}
}
