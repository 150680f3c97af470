package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"sidekick/internal/model"
)

var titles = map[model.NotificationType]string{
	model.NotifyDrowsy:     "Feeling drowsy?",
	model.NotifyDistracted: "Lost focus?",
	model.NotifyOverFocus:  "Time for a break",
}

// Desktop pops OS notifications: osascript on macOS, notify-send on Linux,
// a line on the fallback writer elsewhere.
type Desktop struct {
	goos     string
	fallback io.Writer
	run      func(ctx context.Context, name string, args ...string) error
	lookPath func(string) (string, error)
}

func NewDesktop() *Desktop {
	return &Desktop{
		goos:     runtime.GOOS,
		fallback: os.Stderr,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
		lookPath: exec.LookPath,
	}
}

func (d *Desktop) Send(ctx context.Context, n model.Notification) error {
	title := titles[n.Type]
	if title == "" {
		title = string(n.Type)
	}
	switch d.goos {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title "sidekick" subtitle %q`, n.Message, title)
		if err := d.run(ctx, "osascript", "-e", script); err == nil {
			return nil
		}
	case "linux":
		if _, err := d.lookPath("notify-send"); err == nil {
			if err := d.run(ctx, "notify-send", "sidekick: "+title, n.Message); err == nil {
				return nil
			}
		}
	}
	_, err := fmt.Fprintf(d.fallback, "[%s] %s: %s\n", n.Type, title, n.Message)
	return err
}
