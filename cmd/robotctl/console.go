package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"robot-remote/internal/connmgr"
	"robot-remote/internal/protocol"
	"robot-remote/internal/session"
)

const speedStep = 10

var errQuit = errors.New("quit")

// console is the interactive remote.
type console struct {
	rl        *readline.Instance
	out       io.Writer
	device    string
	closeOnce sync.Once

	mu        sync.Mutex
	lastState connmgr.State
}

func newConsole(device string) (*console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "robot> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("connect"),
			readline.PcItem("disconnect"),
			readline.PcItem("vac", readline.PcItem("on"), readline.PcItem("off"), readline.PcItem("toggle")),
			readline.PcItem("speed"),
			readline.PcItem("go", directionItems()...),
			readline.PcItem("pulse", directionItems()...),
			readline.PcItem("release"),
			readline.PcItem("stop"),
			readline.PcItem("status"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &console{rl: rl, out: rl.Stdout(), device: device}, nil
}

func directionItems() []readline.PrefixCompleterInterface {
	return []readline.PrefixCompleterInterface{
		readline.PcItem("forward"),
		readline.PcItem("backward"),
		readline.PcItem("left"),
		readline.PcItem("right"),
	}
}

// Stderr coordinates log output with the prompt.
func (c *console) Stderr() io.Writer { return c.rl.Stderr() }

func (c *console) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.rl.Close() })
	return err
}

// Run reads commands until quit, EOF or ctx is done. connectTimeout bounds
// each command; zero means no bound.
func (c *console) Run(ctx context.Context, sess *session.Session, connectTimeout time.Duration) {
	sess.OnChange(c.onChange)
	c.printHelp()

	// Readline blocks; closing it on ctx done unblocks the loop.
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		cctx, cancel := ctx, context.CancelFunc(func() {})
		if connectTimeout > 0 {
			cctx, cancel = context.WithTimeout(ctx, connectTimeout+5*time.Second)
		}
		err = c.exec(cctx, sess, strings.ToLower(fields[0]), fields[1:])
		cancel()

		switch {
		case errors.Is(err, errQuit):
			return
		case err != nil:
			c.printf("error: %v\n", err)
			if k := session.KindOf(err); k != session.KindOther {
				c.printf("  (%s)\n", k)
			}
		}
	}
}

func (c *console) exec(ctx context.Context, sess *session.Session, cmd string, args []string) error {
	switch cmd {
	case "help", "?":
		c.printHelp()
		return nil
	case "quit", "exit", "q":
		return errQuit
	case "status", "s":
		c.printStatus(sess.Snapshot())
		return nil

	case "connect", "c":
		addr := c.device
		if len(args) > 0 {
			addr = args[0]
		}
		if addr == "" {
			return errors.New("usage: connect <AA:BB:CC:DD:EE:FF> (or set device in the config)")
		}
		c.printf("connecting to %s...\n", addr)
		return sess.Connect(ctx, addr)
	case "disconnect", "d":
		return sess.Disconnect(ctx)

	case "vac", "vacuum", "v":
		if len(args) == 0 {
			return sess.ToggleVacuum(ctx)
		}
		switch strings.ToLower(args[0]) {
		case "on", "1":
			return sess.SetVacuum(ctx, true)
		case "off", "0":
			return sess.SetVacuum(ctx, false)
		case "toggle", "t":
			return sess.ToggleVacuum(ctx)
		}
		return errors.New("usage: vac on|off|toggle")

	case "speed":
		if len(args) != 1 {
			return errors.New("usage: speed <0-100>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid speed %q", args[0])
		}
		return sess.SetSpeed(ctx, n)
	case "+":
		return sess.AdjustSpeed(ctx, speedStep)
	case "-":
		return sess.AdjustSpeed(ctx, -speedStep)

	case "go":
		if len(args) != 1 {
			return errors.New("usage: go forward|backward|left|right")
		}
		d, err := protocol.ParseDirection(args[0])
		if err != nil {
			return err
		}
		return sess.StartMove(ctx, d)
	case "f", "b", "l", "r":
		d, _ := protocol.ParseDirection(cmd)
		return sess.StartMove(ctx, d)
	case "release":
		return sess.EndMove(ctx)
	case "stop", "x":
		return sess.StopNow(ctx)

	case "pulse", "p":
		return c.pulse(ctx, sess, args)
	}
	return fmt.Errorf("unknown command %q (try help)", cmd)
}

// pulse holds a direction for a while and releases it, like pressing and
// releasing a direction button.
func (c *console) pulse(ctx context.Context, sess *session.Session, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: pulse <direction> <duration>, e.g. pulse f 500ms")
	}
	d, err := protocol.ParseDirection(args[0])
	if err != nil {
		return err
	}
	hold, err := time.ParseDuration(args[1])
	if err != nil || hold <= 0 {
		return fmt.Errorf("invalid duration %q", args[1])
	}
	if err := sess.StartMove(ctx, d); err != nil {
		return err
	}
	t := time.NewTimer(hold)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	// The release goes out even if ctx ended during the hold.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return sess.EndMove(rctx)
}

// onChange reports connection state transitions.
func (c *console) onChange(snap session.Snapshot) {
	c.mu.Lock()
	changed := snap.State != c.lastState
	c.lastState = snap.State
	c.mu.Unlock()
	if !changed {
		return
	}
	if snap.Address != "" {
		c.printf("[%s %s]\n", snap.State, snap.Address)
		return
	}
	c.printf("[%s]\n", snap.State)
}

func (c *console) printStatus(s session.Snapshot) {
	w := c.out
	fmt.Fprintf(w, "  link:    %s", s.State)
	if s.Address != "" {
		fmt.Fprintf(w, " (%s)", s.Address)
	}
	fmt.Fprintln(w)
	vac := "off"
	if s.VacuumOn {
		vac = "on"
	}
	fmt.Fprintf(w, "  vacuum:  %s\n", vac)
	fmt.Fprintf(w, "  speed:   %d%%\n", s.Speed)
	if s.Moving {
		fmt.Fprintf(w, "  moving:  %s\n", s.Direction)
	} else {
		fmt.Fprintln(w, "  moving:  no")
	}
	if s.LastError != session.KindNone {
		fmt.Fprintf(w, "  last error: %s\n", s.LastError)
	}
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `
Robot Remote Commands:
  Link:
    connect [addr]        - Connect (defaults to the configured device)
    disconnect            - Disconnect
    status                - Show link and robot state

  Robot:
    vac on|off|toggle     - Suction on/off (no argument toggles)
    speed <0-100>         - Set speed in percent
    + / -                 - Speed up / down by 10
    go <dir> | f b l r    - Start moving forward/backward/left/right
    release               - Release the held direction (sends stop)
    pulse <dir> <dur>     - Hold a direction for a duration, e.g. pulse f 500ms
    stop | x              - Stop now

  General:
    help                  - Show this help
    quit                  - Exit (disconnects first)`)
}
