package server

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/looplj/guardianbridge/internal/log"
	"github.com/looplj/guardianbridge/internal/pipeline"
)

// SetupRoutes wires srv's single catch-all proxy route plus a health
// check onto pipe, the teacher's SetupRoutes(server, handlers, ...) shape
// collapsed down to GuardianBridge's one entry point (spec.md §6.1):
// there is no admin surface, auth layer, or GraphQL API in scope.
func SetupRoutes(srv *Server, pipe *pipeline.Pipeline) {
	srv.Use(gin.LoggerWithWriter(gin.DefaultWriter))

	if srv.Config.CORS.Enabled {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = srv.Config.CORS.AllowedOrigins
		corsConfig.AllowMethods = srv.Config.CORS.AllowedMethods
		corsConfig.AllowHeaders = srv.Config.CORS.AllowedHeaders

		corsHandler := cors.New(corsConfig)
		srv.Use(corsHandler)
		srv.OPTIONS("/*path", corsHandler)
	}

	srv.GET("/health", health)

	srv.NoRoute(proxyHandler(pipe))
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// proxyHandler adapts a gin.Context into pipeline.Inbound and runs it
// through pipe.Handle, streaming the response body to the client as it is
// produced (spec.md §2/§6.1).
func proxyHandler(pipe *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeEnvelope(c, pipeline.CodeProxyError, "failed to read request body", http.StatusBadRequest)
			return
		}

		headers := make(map[string]string, len(c.Request.Header))
		for k := range c.Request.Header {
			headers[k] = c.Request.Header.Get(k)
		}

		in := pipeline.Inbound{
			Method:  c.Request.Method,
			Path:    c.Request.URL.RequestURI(),
			Headers: headers,
			Body:    body,
		}

		ctx := c.Request.Context()

		outcome, err := pipe.Handle(ctx, in, c.Writer)
		if err != nil {
			writeError(c, err)
			return
		}

		if outcome.Streamed {
			return
		}

		c.Data(outcome.StatusCode, outcome.ContentType, outcome.Body)
	}
}

// writeError renders a pipeline.Error (or any other error) as the JSON
// error envelope of spec.md §7.
func writeError(c *gin.Context, err error) {
	if pe, ok := pipeline.AsError(err); ok {
		if pe.Cause != nil {
			log.Warn(c.Request.Context(), "pipeline error", log.String("code", pe.Code), log.Cause(pe.Cause))
		}

		writeEnvelope(c, pe.Code, pe.Error(), pe.Status)

		return
	}

	log.Error(context.Background(), "unhandled pipeline error", log.Cause(err))
	writeEnvelope(c, pipeline.CodeProxyError, "internal proxy error", http.StatusInternalServerError)
}

func writeEnvelope(c *gin.Context, code, message string, status int) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
