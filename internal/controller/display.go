// ABOUTME: Operator-facing console output for the controller.
// ABOUTME: Formats results, session tables, pending commands and history with optional color.

package controller

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/inflight"
	"github.com/2389/coven-fleet/internal/protocol"
	"github.com/2389/coven-fleet/internal/session"
	"github.com/2389/coven-fleet/internal/store"
)

const helpText = `Commands:
  nodes                      List connected nodes
  status                     Show configured nodes and whether they are online
  ping <node>                Send a ping to a node
  exec <node> <command...>   Run a shell command on a node
  pending                    List commands waiting for a result
  kick <node>                Disconnect a node
  history [node] [limit]     Show recent command results
  help                       Show this help
  exit | quit                Shut down the controller
`

// display writes operator output. Only the loop goroutine uses it.
type display struct {
	out    io.Writer
	cyan   *color.Color
	green  *color.Color
	yellow *color.Color
	red    *color.Color
	gray   *color.Color
}

func newDisplay(out io.Writer, colored bool) *display {
	d := &display{
		out:    out,
		cyan:   color.New(color.FgCyan),
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed, color.Bold),
		gray:   color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{d.cyan, d.green, d.yellow, d.red, d.gray} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return d
}

func (d *display) errorf(format string, args ...any) {
	d.red.Fprint(d.out, "error: ")
	fmt.Fprintf(d.out, format+"\n", args...)
}

func (d *display) noticef(format string, args ...any) {
	d.gray.Fprintf(d.out, "* "+format+"\n", args...)
}

func (d *display) sent(node, id string) {
	d.green.Fprint(d.out, "▶ ")
	fmt.Fprintf(d.out, "sent to %s (id=%s)\n", node, id)
}

// result prints a command result:
//
//	[node] command result (id=ID, exit=N)
//	stdout:
//	...
//	stderr: <empty>
func (d *display) result(node string, r protocol.Result) {
	exit := d.green
	if r.Exit != 0 {
		exit = d.yellow
	}

	fmt.Fprintln(d.out)
	d.cyan.Fprintf(d.out, "[%s]", node)
	fmt.Fprintf(d.out, " command result (id=%s, ", r.ID)
	exit.Fprintf(d.out, "exit=%d", r.Exit)
	fmt.Fprintln(d.out, ")")

	d.stream("stdout", r.Stdout)
	d.stream("stderr", r.Stderr)
}

func (d *display) stream(label, text string) {
	if text == "" {
		fmt.Fprintf(d.out, "%s: <empty>\n", label)
		return
	}
	fmt.Fprintf(d.out, "%s:\n%s", label, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(d.out)
	}
}

func (d *display) nodes(sessions []session.Session, capacity int, now time.Time) {
	fmt.Fprintf(d.out, "Connected nodes (%d/%d):\n", len(sessions), capacity)
	if len(sessions) == 0 {
		fmt.Fprintln(d.out, "  <none>")
		return
	}

	w := tabwriter.NewWriter(d.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tHANDLE\tOS\tADDRESS\tLAST SEEN")
	for _, s := range sessions {
		fmt.Fprintf(w, "  %s\t%d\t%s\t%s\t%s\n",
			s.Node.Name,
			s.Handle,
			orUnknown(s.Node.OS),
			orUnknown(s.Node.Address),
			ago(now.Sub(s.LastSeen)),
		)
	}
	_ = w.Flush()
}

// status lists configured nodes with their connection state, then any
// connected node that is not in the configuration.
func (d *display) status(configured []config.Node, sessions []session.Session) {
	online := make(map[string]session.Session, len(sessions))
	for _, s := range sessions {
		online[s.Node.Name] = s
	}

	w := tabwriter.NewWriter(d.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tSTATE\tOS\tADDRESS")
	listed := make(map[string]bool, len(configured))
	for _, n := range configured {
		listed[n.Name] = true
		state := d.gray.Sprint("offline")
		if _, ok := online[n.Name]; ok {
			state = d.green.Sprint("online")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", n.Name, state, orUnknown(n.OS), orUnknown(n.Address))
	}
	for _, s := range sessions {
		if listed[s.Node.Name] {
			continue
		}
		state := d.yellow.Sprint("online (unconfigured)")
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", s.Node.Name, state, orUnknown(s.Node.OS), orUnknown(s.Node.Address))
	}
	_ = w.Flush()
}

func (d *display) pending(reqs []inflight.Request, now time.Time) {
	fmt.Fprintf(d.out, "Pending commands (%d):\n", len(reqs))
	if len(reqs) == 0 {
		fmt.Fprintln(d.out, "  <none>")
		return
	}

	w := tabwriter.NewWriter(d.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNODE\tAGE\tCOMMAND")
	for _, r := range reqs {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", r.ID, r.Node, ago(now.Sub(r.SentAt)), truncate(r.Command, 60))
	}
	_ = w.Flush()
}

func (d *display) history(records []*store.CommandRecord) {
	if len(records) == 0 {
		fmt.Fprintln(d.out, "No command history.")
		return
	}

	w := tabwriter.NewWriter(d.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  COMPLETED\tNODE\tID\tEXIT\tCOMMAND")
	for _, r := range records {
		cmd := r.Command
		if cmd == "" {
			cmd = "<unknown>"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%s\n",
			r.CompletedAt.Local().Format("Jan 02 15:04:05"),
			r.Node,
			r.CommandID,
			r.ExitCode,
			truncate(cmd, 60),
		)
	}
	_ = w.Flush()
}

func (d *display) help() {
	fmt.Fprint(d.out, helpText)
}

func ago(d time.Duration) string {
	if d < time.Second {
		return "just now"
	}
	return d.Round(time.Second).String() + " ago"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
