package logger

import (
	"io"
	"log/slog"

	"github.com/golang-cz/devslog"
)

func newHandler(p Provider, level slog.Level, w io.Writer) slog.Handler {
	switch p {
	case ProviderDevSlog:
		return devslog.NewHandler(w, &devslog.Options{
			HandlerOptions: &slog.HandlerOptions{
				AddSource: true,
				Level:     level,
			},
			NewLineAfterLog:    true,
			MaxErrorStackTrace: 40,
			MaxSlicePrintSize:  40,
			SortKeys:           true,
			TimeFormat:         "[15:04:05]",
			DebugColor:         devslog.Magenta,
			StringerFormatter:  true,
		})
	case ProviderNoop:
		return slog.DiscardHandler
	default:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
}

// Noop returns a logger that drops every record.
func Noop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
