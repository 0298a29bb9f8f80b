package server

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/kestrun/kestrun-go/schema"
)

// encodings the host can produce, best ratio first.
var responseEncodings = []string{"br", "zstd", "gzip", "deflate"}

// responseCompression negotiates Accept-Encoding and wraps the response
// writer. The encoder is picked lazily at the first write so responses that
// carry their own Content-Encoding or stream server-sent events stay
// untouched.
func (s *Server) responseCompression() gin.HandlerFunc {
	return func(c *gin.Context) {
		encoding := negotiateEncoding(c.GetHeader("Accept-Encoding"))
		if encoding == "" {
			c.Next()
			return
		}
		writer := &compressedWriter{ResponseWriter: c.Writer, encoding: encoding, logger: s.logger}
		c.Writer = writer
		defer writer.close()
		c.Next()
	}
}

// negotiateEncoding returns the preferred encoding the client accepts, or ""
// when the response should stay identity-encoded.
func negotiateEncoding(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	accepted := map[string]bool{}
	for _, token := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(token, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if q, ok := qValue(params); ok && q <= 0 {
			continue
		}
		accepted[name] = true
	}
	for _, encoding := range responseEncodings {
		if accepted[encoding] {
			return encoding
		}
	}
	if accepted["*"] {
		return "gzip"
	}
	return ""
}

func qValue(params string) (float64, bool) {
	for _, param := range strings.Split(params, ";") {
		name, value, ok := strings.Cut(param, "=")
		if !ok || strings.TrimSpace(strings.ToLower(name)) != "q" {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false
		}
		return q, true
	}
	return 0, false
}

type compressor interface {
	io.WriteCloser
	Flush() error
}

// compressedWriter defers the compress-or-not decision to the moment the
// first byte is written, when Content-Type and Content-Encoding are known.
type compressedWriter struct {
	gin.ResponseWriter
	encoding   string
	logger     *logrus.Logger
	compressor compressor
	decided    bool
	skip       bool
}

func (w *compressedWriter) decide() {
	if w.decided {
		return
	}
	w.decided = true

	header := w.ResponseWriter.Header()
	if header.Get("Content-Encoding") != "" {
		w.skip = true
		return
	}
	if strings.HasPrefix(header.Get("Content-Type"), schema.ContentTypeTextEventStream) {
		w.skip = true
		return
	}

	switch w.encoding {
	case "br":
		w.compressor = brotli.NewWriter(w.ResponseWriter)
	case "zstd":
		encoder, err := zstd.NewWriter(w.ResponseWriter)
		if err != nil {
			w.skip = true
			return
		}
		w.compressor = encoder
	case "gzip":
		w.compressor = gzip.NewWriter(w.ResponseWriter)
	case "deflate":
		encoder, err := flate.NewWriter(w.ResponseWriter, flate.DefaultCompression)
		if err != nil {
			w.skip = true
			return
		}
		w.compressor = encoder
	default:
		w.skip = true
		return
	}

	header.Set("Content-Encoding", w.encoding)
	header.Add("Vary", "Accept-Encoding")
	header.Del("Content-Length")
}

func (w *compressedWriter) Write(p []byte) (int, error) {
	w.decide()
	if w.skip {
		return w.ResponseWriter.Write(p)
	}
	return w.compressor.Write(p)
}

func (w *compressedWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// WriteHeaderNow decides before the status line flushes so the encoding
// headers make it onto the wire for streamed responses.
func (w *compressedWriter) WriteHeaderNow() {
	w.decide()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *compressedWriter) Flush() {
	if w.compressor != nil && !w.skip {
		if err := w.compressor.Flush(); err != nil {
			w.logger.WithError(err).Warn("failed to flush response compressor")
		}
	}
	w.ResponseWriter.Flush()
}

func (w *compressedWriter) close() {
	if w.compressor == nil || w.skip {
		return
	}
	if err := w.compressor.Close(); err != nil {
		w.logger.WithError(err).Warn("failed to finish response compression")
	}
}
