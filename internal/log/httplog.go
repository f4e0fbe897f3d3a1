package log

import (
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"go.uber.org/zap"
)

// HTTPLogEntry represents an HTTP request/response log entry
type HTTPLogEntry struct {
	Timestamp  time.Time     `json:"timestamp"`
	RequestID  string        `json:"request_id,omitempty"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	Status     int           `json:"status"`
	Duration   time.Duration `json:"duration"`
	Size       int64         `json:"size"`
	RemoteAddr string        `json:"remote_addr"`
	UserAgent  string        `json:"user_agent"`
}

// LogBuffer keeps the most recent HTTP log entries in a fixed-size ring.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []HTTPLogEntry
	next    int
	full    bool
}

// NewLogBuffer creates a ring holding up to size entries.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 1
	}
	return &LogBuffer{entries: make([]HTTPLogEntry, size)}
}

// AddEntry stores e, evicting the oldest entry once the ring is full.
func (b *LogBuffer) AddEntry(e HTTPLogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
}

// Entries returns the stored entries, oldest first.
func (b *LogBuffer) Entries() []HTTPLogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.full {
		return append([]HTTPLogEntry{}, b.entries[:b.next]...)
	}
	out := make([]HTTPLogEntry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	return append(out, b.entries[:b.next]...)
}

// HTTP log buffer is separate from the main log output
var httpLogBuffer *LogBuffer
var httpLogBufferOnce sync.Once

// GetHTTPLogBuffer returns the HTTP log buffer instance, creating it if necessary
func GetHTTPLogBuffer() *LogBuffer {
	httpLogBufferOnce.Do(func() {
		httpLogBuffer = NewLogBuffer(1000) // Keep last 1000 HTTP log entries
	})
	return httpLogBuffer
}

// RequestIDFunc extracts a request ID for the access log.
type RequestIDFunc func(*http.Request) string

// HTTPMiddleware logs every request through logger and records it in buf.
// observe, when non-nil, also receives the status and latency.
func HTTPMiddleware(logger *zap.SugaredLogger, buf *LogBuffer, requestID RequestIDFunc, observe func(r *http.Request, status int, elapsed time.Duration)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			entry := HTTPLogEntry{
				Timestamp:  time.Now(),
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     m.Code,
				Duration:   m.Duration,
				Size:       m.Written,
				RemoteAddr: r.RemoteAddr,
				UserAgent:  r.UserAgent(),
			}
			if requestID != nil {
				entry.RequestID = requestID(r)
			}
			if buf != nil {
				buf.AddEntry(entry)
			}
			if observe != nil {
				observe(r, m.Code, m.Duration)
			}

			logger.Debugw("http request",
				"request_id", entry.RequestID,
				"method", entry.Method,
				"path", entry.Path,
				"status", entry.Status,
				"duration_ms", entry.Duration.Milliseconds(),
				"size", entry.Size,
			)
		})
	}
}
