// Package monitor wires up myagent's structured logging: a compact
// slog.Handler shared by CLI and daemon mode, and the startup banner
// printed by `serve`/`start`.
package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// CustomHandler implements slog.Handler with a compact
// "[time] [LEVEL] msg attr=val..." line format.
type CustomHandler struct {
	w     io.Writer
	opts  slog.HandlerOptions
	attrs []slog.Attr
}

func NewCustomHandler(w io.Writer, opts slog.HandlerOptions) *CustomHandler {
	return &CustomHandler{w: w, opts: opts}
}

func (h *CustomHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *CustomHandler) Handle(ctx context.Context, r slog.Record) error {
	buf := bytes.NewBuffer(nil)

	fmt.Fprintf(buf, "[%s] [%s] %s",
		r.Time.Format("2006-01-02 15:04:05"),
		r.Level,
		r.Message,
	)

	for _, a := range h.attrs {
		h.appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(buf, a)
		return true
	})

	buf.WriteString("\n")
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *CustomHandler) appendAttr(buf *bytes.Buffer, a slog.Attr) {
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")

	val := a.Value.Resolve()
	switch val.Kind() {
	case slog.KindString:
		fmt.Fprintf(buf, "%q", val.String())
	case slog.KindTime:
		buf.WriteString(val.Time().Format(time.RFC3339))
	default:
		fmt.Fprintf(buf, "%v", val.Any())
	}
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CustomHandler{w: h.w, opts: h.opts, attrs: append(h.attrs, attrs...)}
}

func (h *CustomHandler) WithGroup(name string) slog.Handler {
	return h
}

func parseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
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

// SetupSlog installs CustomHandler as the global slog default, writing to
// w at the given minimum level. Callers pass os.Stderr in CLI/interactive
// mode and a lumberjack.Logger in daemon mode (see SetupDaemonLogging).
func SetupSlog(levelStr string, w io.Writer) {
	handler := NewCustomHandler(w, slog.HandlerOptions{Level: parseLevel(levelStr)})
	slog.SetDefault(slog.New(handler))
}

// PrintBanner prints the startup banner shown by `serve`/`start`.
func PrintBanner() {
	const banner = `
 __  __       _                    _
|  \/  |_   _/ \   __ _  ___ _ __ | |_
| |\/| | | | | _ \ / _` + "`" + ` |/ _` + "`" + ` |/ _ \ '_ \| __|
| |  | | |_| / ___ \ (_| | (_| |  __/ | | | |_
|_|  |_|\__, /_/   \_\__, |\__, |\___|_| |_|\__|
        |___/        |___/ |___/
`
	fmt.Print(banner)
}
