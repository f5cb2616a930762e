package runner

import (
	"bytes"
	"context"
	"io"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer finishes in-flight work before the process exits. ctx carries the
// drain deadline.
type Drainer interface {
	Drain(ctx context.Context) error
}

type DrainerFunc func(ctx context.Context) error

func (f DrainerFunc) Drain(ctx context.Context) error { return f(ctx) }

// Version is stamped at build time with -ldflags.
var Version = "dev"

// PrintBanner writes the startup banner to w. A nil w disables it.
func PrintBanner(w io.Writer, title string) {
	if w == nil {
		return
	}
	tpl := "{{ .Title \"" + title + "\" \"\" 0 }}\nVersion: " + Version + "\n"
	banner.Init(w, true, false, bytes.NewBufferString(tpl))
}
