package service

import (
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Logger 日誌介面
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, err error, fields ...interface{})
	Warn(msg string, fields ...interface{})
}

// SlogLogger 以 log/slog 實作 Logger
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger 依設定建立結構化日誌器（format: json / text）
func NewSlogLogger(w io.Writer, level, format string) *SlogLogger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &SlogLogger{logger: slog.New(handler)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SlogLogger) Info(msg string, fields ...interface{}) {
	l.logger.Info(msg, fields...)
}

func (l *SlogLogger) Error(msg string, err error, fields ...interface{}) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	l.logger.Error(msg, fields...)
}

func (l *SlogLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warn(msg, fields...)
}

// LogEntry 日誌條目
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

// MockLogger 模擬日誌器（用於測試）
type MockLogger struct {
	Logs []LogEntry
	mu   sync.Mutex
}

func (m *MockLogger) append(entry LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, entry)
}

func (m *MockLogger) Info(msg string, fields ...interface{}) {
	m.append(LogEntry{Level: "INFO", Message: msg, Fields: parseFields(fields...)})
}

func (m *MockLogger) Error(msg string, err error, fields ...interface{}) {
	fieldsMap := parseFields(fields...)
	if err != nil {
		fieldsMap["error"] = err.Error()
	}
	m.append(LogEntry{Level: "ERROR", Message: msg, Fields: fieldsMap})
}

func (m *MockLogger) Warn(msg string, fields ...interface{}) {
	m.append(LogEntry{Level: "WARN", Message: msg, Fields: parseFields(fields...)})
}

func (m *MockLogger) GetLogs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.Logs...)
}

// CountLevel 計算指定等級的日誌數量
func (m *MockLogger) CountLevel(level string) int {
	count := 0
	for _, entry := range m.GetLogs() {
		if entry.Level == level {
			count++
		}
	}
	return count
}

func (m *MockLogger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = make([]LogEntry, 0)
}

// NewMockLogger 創建模擬日誌器
func NewMockLogger() *MockLogger {
	return &MockLogger{
		Logs: make([]LogEntry, 0),
	}
}

func parseFields(fields ...interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for i := 0; i < len(fields)-1; i += 2 {
		if key, ok := fields[i].(string); ok {
			result[key] = fields[i+1]
		}
	}
	return result
}
