package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	statusWarnThreshold  = 400
	statusErrorThreshold = 500
)

// RequestLogger is a Gin middleware that logs requests using zerolog.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		switch {
		case status >= statusErrorThreshold:
			evt = log.Error()
		case status >= statusWarnThreshold:
			evt = log.Warn()
		}

		evt.
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http request completed")
	}
}
