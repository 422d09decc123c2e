package genai

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// debugEntry is the on-disk form of one generation call.
type debugEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Backend     string    `json:"backend"`
	Model       string    `json:"model"`
	Prompt      string    `json:"prompt"`
	ImageBytes  int       `json:"image_bytes,omitempty"`
	ImageMIME   string    `json:"image_mime,omitempty"`
	Temperature float32   `json:"temperature"`
	JSON        bool      `json:"json"`
	Response    string    `json:"response,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
}

// writeDebug dumps a call to <dir>/debug. Failures are logged and ignored.
func writeDebug(dir string, logger *zap.Logger, backend, model string, req Request, resp string, callErr error, started time.Time) {
	if dir == "" {
		return
	}
	entry := debugEntry{
		Timestamp:   started.UTC(),
		Backend:     backend,
		Model:       model,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		JSON:        req.JSON,
		Response:    resp,
		DurationMs:  time.Since(started).Milliseconds(),
	}
	if req.Image != nil {
		entry.ImageBytes = len(req.Image.Data)
		entry.ImageMIME = req.Image.MIMEType
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}

	debugDir := filepath.Join(dir, "debug")
	if err := os.MkdirAll(debugDir, 0755); err != nil {
		logger.Warn("genai.writeDebug: failed to create debug directory", zap.String("dir", debugDir), zap.Error(err))
		return
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		logger.Warn("genai.writeDebug: marshal failed", zap.Error(err))
		return
	}
	name := fmt.Sprintf("%s_%s_%d.json", started.UTC().Format("20060102T150405"), backend, started.UnixNano())
	if err := os.WriteFile(filepath.Join(debugDir, name), data, 0644); err != nil {
		logger.Warn("genai.writeDebug: write failed", zap.String("file", name), zap.Error(err))
	}
}
