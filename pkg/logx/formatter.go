package logx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Formatter renders a log record into bytes ready to be written.
type Formatter interface {
	Format(rec *Record) ([]byte, error)
}

// Record is a single log record on its way to the output.
type Record struct {
	Level     Level
	Message   string
	Fields    Fields
	Error     error
	Timestamp time.Time
}

// Fields is a map of structured data attached to a record.
type Fields map[string]interface{}

// ANSI color codes for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorWhite  = "\033[97m"
)

// ConsoleFormatter formats records for human consumption.
type ConsoleFormatter struct {
	config *Config
}

// NewConsoleFormatter creates a new console formatter.
func NewConsoleFormatter(config *Config) *ConsoleFormatter {
	return &ConsoleFormatter{config: config}
}

// Format formats a record as a single console line.
func (f *ConsoleFormatter) Format(rec *Record) ([]byte, error) {
	var b strings.Builder

	ts := rec.Timestamp.Format(f.config.TimeFormat)
	if f.config.EnableColors {
		b.WriteString(colorGray + ts + colorReset)
	} else {
		b.WriteString(ts)
	}
	b.WriteString(" ")

	b.WriteString(f.levelTag(rec.Level))
	b.WriteString(" ")
	b.WriteString(rec.Message)

	if len(rec.Fields) > 0 {
		// Stable field order keeps console output diffable.
		keys := make([]string, 0, len(rec.Fields))
		for k := range rec.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if f.config.EnableColors {
				fmt.Fprintf(&b, " %s%s%s=%v", colorCyan, k, colorReset, rec.Fields[k])
			} else {
				fmt.Fprintf(&b, " %s=%v", k, rec.Fields[k])
			}
		}
	}

	if rec.Error != nil {
		if f.config.EnableColors {
			fmt.Fprintf(&b, " %serror=%q%s", colorRed, rec.Error.Error(), colorReset)
		} else {
			fmt.Fprintf(&b, " error=%q", rec.Error.Error())
		}
	}

	b.WriteString("\n")
	return []byte(b.String()), nil
}

func (f *ConsoleFormatter) levelTag(level Level) string {
	tag := fmt.Sprintf("%-5s", level.String())
	if !f.config.EnableColors {
		return tag
	}
	switch level {
	case LevelDebug:
		return colorGray + tag + colorReset
	case LevelInfo:
		return colorWhite + tag + colorReset
	case LevelWarn:
		return colorYellow + tag + colorReset
	case LevelError, LevelFatal:
		return colorRed + tag + colorReset
	default:
		return tag
	}
}

// JSONFormatter formats records as JSON, one object per line.
type JSONFormatter struct {
	config *Config
}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter(config *Config) *JSONFormatter {
	return &JSONFormatter{config: config}
}

// Format formats a record as JSON.
func (f *JSONFormatter) Format(rec *Record) ([]byte, error) {
	data := make(map[string]interface{}, len(rec.Fields)+4)

	data["level"] = rec.Level.String()
	data["message"] = rec.Message
	data["timestamp"] = rec.Timestamp.Format(time.RFC3339Nano)

	for k, v := range rec.Fields {
		data[k] = v
	}

	if rec.Error != nil {
		data["error"] = rec.Error.Error()
	}

	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return append(bytes, '\n'), nil
}
