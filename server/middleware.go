package server

import (
	"compress/flate"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/kestrun/kestrun-go/engine"
	"github.com/kestrun/kestrun-go/schema"
)

const (
	runnerKey    = "kestrun.runner"
	requestIDKey = "kestrun.requestID"
)

func runnerFrom(c *gin.Context) *engine.Runner {
	value, ok := c.Get(runnerKey)
	if !ok {
		return nil
	}
	runner, _ := value.(*engine.Runner)
	return runner
}

func requestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// requestLogging tags every request with an ID and logs one line per request
// with status, latency, client and method.
func (s *Server) requestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		requestID := uuid.NewString()
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set("X-Request-Id", requestID)

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		} else {
			latency = latency.Truncate(time.Millisecond)
		}

		statusCode := c.Writer.Status()
		logLine := fmt.Sprintf("%3d | %13v | %15s | %-7s %q", statusCode, latency, c.ClientIP(), c.Request.Method, path)
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			logLine = logLine + " | " + errorMessage
		}

		entry := s.logger.WithField("request_id", requestID)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(logLine)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(logLine)
		default:
			entry.Info(logLine)
		}
	}
}

// recovery converts panics into 500 responses with a logged stack.
// http.ErrAbortHandler propagates so net/http drops the connection quietly.
func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			panic(http.ErrAbortHandler)
		}

		s.logger.WithFields(logrus.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// leaseRunner checks an interpreter out of the pool for the request and
// returns it when the handler chain unwinds, panics included.
func (s *Server) leaseRunner() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "lease_runner")
		runner, err := s.pool.Lease(ctx)
		span.End()
		if err != nil {
			if c.Request.Context().Err() != nil {
				s.logger.WithField("request_id", requestIDFrom(c)).Info("client left before an interpreter was available")
				c.Abort()
				return
			}
			s.writeError(c, nil, schema.NewRequestError(schema.ErrorKindScriptRuntime, "no interpreter available").
				WithStatus(http.StatusServiceUnavailable).Wrap(err))
			c.Abort()
			return
		}
		defer s.pool.Release(runner)
		c.Set(runnerKey, runner)
		c.Next()
	}
}

// claimGate rejects requests missing a required claim with 401 and requests
// carrying the wrong value with 403. An empty expected value means presence
// is enough.
func (s *Server) claimGate(required map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := s.claims(c.Request)
		for name, expected := range required {
			actual, ok := lookupClaim(claims, name)
			if !ok {
				s.writeErrorBody(c, http.StatusUnauthorized, "unauthorized",
					fmt.Sprintf("missing required claim %q", name), nil)
				return
			}
			if expected != "" && actual != expected {
				s.writeErrorBody(c, http.StatusForbidden, "forbidden",
					fmt.Sprintf("claim %q does not grant access", name), nil)
				return
			}
		}
		c.Next()
	}
}

func lookupClaim(claims map[string]string, name string) (string, bool) {
	if value, ok := claims[name]; ok {
		return value, true
	}
	for key, value := range claims {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return "", false
}

// decompression transparently inflates gzip, deflate, brotli and zstd
// request bodies before the binder reads them. Unknown encodings pass
// through for the binder to reject on content.
func (s *Server) decompression() gin.HandlerFunc {
	return func(c *gin.Context) {
		encoding := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if encoding == "" || c.Request.Body == nil || c.Request.Body == http.NoBody {
			c.Next()
			return
		}

		var reader io.ReadCloser
		switch encoding {
		case "gzip":
			inflated, err := gzip.NewReader(c.Request.Body)
			if err != nil {
				s.writeErrorBody(c, http.StatusBadRequest, "malformed-content-encoding",
					"request body is not valid gzip", nil)
				return
			}
			reader = inflated
		case "deflate":
			reader = flate.NewReader(c.Request.Body)
		case "br":
			reader = io.NopCloser(brotli.NewReader(c.Request.Body))
		case "zstd":
			decoder, err := zstd.NewReader(c.Request.Body)
			if err != nil {
				s.writeErrorBody(c, http.StatusBadRequest, "malformed-content-encoding",
					"request body is not valid zstd", nil)
				return
			}
			reader = decoder.IOReadCloser()
		default:
			c.Next()
			return
		}

		c.Request.Body = reader
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}
