// Package logging assembles the process logger: a bracketed line format
// carrying the caller site and the request id, with optional size-rotated
// file output.
package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hasura/ndc-sdk-go/utils"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the level and output of a logger built by New.
type Options struct {
	// Level is a logrus level name. Empty means info.
	Level string
	// File is the log file path. Empty logs to stderr.
	File string
	// MaxSizeMB rotates the file when it grows past this size. Zero means 10.
	MaxSizeMB int
	// MaxBackups bounds the rotated files kept. Zero keeps all.
	MaxBackups int
	// MaxAgeDays bounds the age of rotated files kept. Zero keeps all.
	MaxAgeDays int
}

// New builds a logger with the line formatter and the configured output.
func New(options Options) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetReportCaller(true)
	logger.SetFormatter(&LogFormatter{})

	level := logrus.InfoLevel
	if options.Level != "" {
		parsed, err := logrus.ParseLevel(options.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	logger.SetLevel(level)

	if options.File == "" {
		logger.SetOutput(os.Stderr)
		return logger, nil
	}
	maxSize := options.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	logger.SetOutput(&lumberjack.Logger{
		Filename:   options.File,
		MaxSize:    maxSize,
		MaxBackups: options.MaxBackups,
		MaxAge:     options.MaxAgeDays,
	})
	return logger, nil
}

// LogFormatter renders one entry per line:
//
//	[2026-01-02 15:04:05] [request_id] [level] [file.go:42] message route=GET /items
//
// The request_id field moves into the bracketed slot; the well-known fields
// below print first and everything else follows in sorted order.
type LogFormatter struct{}

var logFieldOrder = []string{"route", "language", "kind", "runner", "name", "addr", "bindings", "path", "status", "error"}

// Format implements logrus.Formatter.
func (f *LogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	requestID := "--------"
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		requestID = id
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	levelStr := fmt.Sprintf("%-5s", level)

	fieldsStr := formatFields(entry.Data)

	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%s] [%s] [%s:%d] %s%s\n",
			timestamp, requestID, levelStr, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		fmt.Fprintf(buffer, "[%s] [%s] [%s] %s%s\n", timestamp, requestID, levelStr, message, fieldsStr)
	}
	return buffer.Bytes(), nil
}

func formatFields(data logrus.Fields) string {
	if len(data) == 0 {
		return ""
	}
	ordered := map[string]bool{"request_id": true}
	fields := make([]string, 0, len(data))
	for _, key := range logFieldOrder {
		ordered[key] = true
		if value, ok := data[key]; ok {
			fields = append(fields, fmt.Sprintf("%s=%v", key, value))
		}
	}
	for _, key := range utils.GetSortedKeys(data) {
		if ordered[key] {
			continue
		}
		fields = append(fields, fmt.Sprintf("%s=%v", key, data[key]))
	}
	if len(fields) == 0 {
		return ""
	}
	return " " + strings.Join(fields, " ")
}
