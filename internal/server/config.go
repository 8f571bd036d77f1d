package server

import (
	"time"

	"github.com/looplj/guardianbridge/internal/config"
)

// Config is the gin-layer subset of internal/config.Config that server.New
// needs to stand up an *http.Server and its CORS middleware.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	UpstreamTimeout time.Duration
	Debug           bool
	CORS            config.CORS
}

// FromProcessConfig adapts the process-wide config.Config into the subset
// server.New needs.
func FromProcessConfig(cfg config.Config) Config {
	return Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		UpstreamTimeout: cfg.Server.UpstreamTimeout,
		Debug:           cfg.Debug,
		CORS:            cfg.Server.CORS,
	}
}
