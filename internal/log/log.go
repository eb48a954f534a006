// Package log builds the apex/log logger used by the kvdisk CLI.
package log

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
)

// EnvVar overrides the configured log level when set.
const EnvVar = "KVDISK_LOG"

// New returns a logger writing through a [Handler] to w.
//
// The level comes from $KVDISK_LOG if set in env, otherwise from level.
// verbose forces debug.
func New(w io.Writer, level string, verbose bool, env []string) (*log.Logger, error) {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, EnvVar+"="); ok && after != "" {
			level = after
		}
	}

	if verbose {
		level = "debug"
	}

	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	return &log.Logger{Handler: NewHandler(w), Level: lvl}, nil
}

// Handler writes one line per entry: time, level initial, message, fields.
type Handler struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewHandler returns a Handler writing to w.
func NewHandler(w io.Writer) *Handler {
	return &Handler{w: w, now: time.Now}
}

// HandleLog implements log.Handler.
func (h *Handler) HandleLog(e *log.Entry) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %.1s %s", h.now().Format("2006-01-02 15:04:05"), strings.ToUpper(e.Level.String()), e.Message)

	for _, name := range slices.Sorted(maps.Keys(e.Fields)) {
		fmt.Fprintf(&b, " %s=%v", name, e.Fields[name])
	}

	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := io.WriteString(h.w, b.String())

	return err
}
