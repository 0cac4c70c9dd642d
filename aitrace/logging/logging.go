package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger fans out to a json handler on jsonOut (if any) and a text handler on textOut.
func NewLogger(jsonOut, textOut io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	textHandler := slog.NewTextHandler(textOut, opts)
	if jsonOut == nil {
		return slog.New(textHandler)
	}

	// constant attributes used to filter logs once they are shipped
	var jsonHandler slog.Handler = slog.NewJSONHandler(jsonOut, opts)
	jsonHandler = jsonHandler.WithAttrs([]slog.Attr{slog.String("service", "aitrace")})

	return slog.New(slogmulti.Fanout(jsonHandler, textHandler))
}

type Outputs struct {
	LogFile   *os.File
	AuditFile *os.File
}

func (o *Outputs) Close() {
	if o.LogFile != nil {
		o.LogFile.Close()
	}
	if o.AuditFile != nil {
		o.AuditFile.Close()
	}
}

// Audit returns the stream for audit logs, stderr if no log dir is configured.
func (o *Outputs) Audit() io.Writer {
	if o.AuditFile != nil {
		return o.AuditFile
	}
	return os.Stderr
}

// Init installs the process wide logger. If logDir is set, aitrace.log and audit.log
// are opened there.
func Init(logDir, level string) (*Outputs, error) {
	outputs := &Outputs{}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0777); err != nil {
			return nil, fmt.Errorf("error creating log dir: %w", err)
		}

		logFile, err := os.OpenFile(filepath.Join(logDir, "aitrace.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		outputs.LogFile = logFile

		auditFile, err := os.OpenFile(filepath.Join(logDir, "audit.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
		if err != nil {
			logFile.Close()
			return nil, fmt.Errorf("error opening audit log file: %w", err)
		}
		outputs.AuditFile = auditFile
	}

	var jsonOut io.Writer
	if outputs.LogFile != nil {
		jsonOut = outputs.LogFile
		log.SetOutput(io.MultiWriter(outputs.LogFile, os.Stderr))
	}
	log.SetFlags(log.Lshortfile | log.Ltime | log.Ldate)

	slog.SetDefault(NewLogger(jsonOut, os.Stderr, ParseLevel(level)))

	slog.Info("logging initialized", "log_dir", logDir, "level", level)

	return outputs, nil
}
