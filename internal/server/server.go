// Package server adapts internal/pipeline.Pipeline onto a gin.Engine,
// the teacher's internal/server.Server shape (*gin.Engine embedded
// alongside a Config and a stoppable *http.Server) generalized down to
// GuardianBridge's single catch-all proxy route plus a health check — the
// fx-based DI container, ent ORM, and GraphQL/admin surface the teacher
// wires through this package have no equivalent in spec.md's scope and
// are dropped (see DESIGN.md).
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/looplj/guardianbridge/internal/log"
)

// New builds the gin.Engine and wraps it in a Server, but does not start
// listening until Run is called.
func New(config Config) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		Engine: engine,
		Config: config,
	}
}

// Server wraps a gin.Engine with the process-level listener lifecycle
// (spec.md §6.1's single HTTP surface).
type Server struct {
	*gin.Engine

	Config Config
	server *http.Server
}

func (srv *Server) Run() error {
	log.Info(context.Background(), "run server", log.String("addr", srv.Config.Addr))

	srv.server = &http.Server{
		Addr:         srv.Config.Addr,
		Handler:      srv.Engine,
		ReadTimeout:  srv.Config.ReadTimeout,
		WriteTimeout: srv.Config.WriteTimeout,
	}

	err := srv.server.ListenAndServe()
	if err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("server: listen on %s: %w", srv.Config.Addr, err)
	}

	return nil
}

func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.server == nil {
		return nil
	}

	return srv.server.Shutdown(ctx)
}
