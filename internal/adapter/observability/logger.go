package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sarangn19/exam-assistant/internal/config"
)

// SetupLogger returns the process logger: JSON on stdout tagged with service
// and env.
func SetupLogger(cfg config.Config) *slog.Logger {
	return NewLogger(os.Stdout, cfg)
}

// NewLogger writes JSON records to w. Dev runs log at debug, test runs at
// warn and everything else at info.
func NewLogger(w io.Writer, cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.AppEnv) {
	case "dev":
		level = slog.LevelDebug
	case "test":
		level = slog.LevelWarn
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format("2006-01-02T15:04:05.000Z07:00"))
			}
			return a
		},
	})
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
