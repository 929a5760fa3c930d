// Package cli is an interactive terminal channel for the coach.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/drillsergeant/coach/internal/domain"
	"github.com/drillsergeant/coach/internal/orchestrator"
	"github.com/drillsergeant/coach/internal/proof"
)

const help = `Commands:
  /image <path> [text]  attach a local image as proof
  /reset                start a fresh conversation
  /help                 show this help
  /quit                 exit`

// MessageHandler produces exactly one reply per inbound message.
type MessageHandler interface {
	Handle(ctx context.Context, msg domain.InboundMessage) domain.OutboundReply
}

// SessionResetter clears a conversation.
type SessionResetter interface {
	Clear(userKey string) bool
}

// REPL reads messages line by line and prints one reply per message.
type REPL struct {
	coach         MessageHandler
	sessions      SessionResetter
	userKey       string
	maxImageBytes int64
	historyFile   string
	in            io.Reader
	out           io.Writer
}

// New creates a REPL for a fixed user key reading stdin and writing stdout.
func New(coach MessageHandler, sessions SessionResetter, userKey string, maxImageBytes int64) *REPL {
	if maxImageBytes <= 0 {
		maxImageBytes = proof.DefaultMaxBytes
	}
	return &REPL{
		coach:         coach,
		sessions:      sessions,
		userKey:       userKey,
		maxImageBytes: maxImageBytes,
		in:            os.Stdin,
		out:           os.Stdout,
	}
}

// SetIO replaces stdin and stdout.
func (r *REPL) SetIO(in io.Reader, out io.Writer) {
	r.in, r.out = in, out
}

// SetHistoryFile enables persistent line history. Empty disables it.
func (r *REPL) SetHistoryFile(path string) {
	r.historyFile = path
}

func (r *REPL) readlineConfig() *readline.Config {
	cfg := &readline.Config{
		Prompt:            "> ",
		HistoryFile:       r.historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		UniqueEditLine:    true,

		Stdin:  readline.NewCancelableStdin(r.in),
		Stdout: r.out,
		Stderr: os.Stderr,
	}
	if r.in != os.Stdin || r.out != os.Stdout {
		cfg.FuncIsTerminal = func() bool { return false }
	}
	return cfg
}

// Run reads until EOF, /quit, Ctrl+C on an empty line or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	rl, err := readline.NewEx(r.readlineConfig())
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()
	stop := context.AfterFunc(ctx, func() { _ = rl.Close() })
	defer stop()

	fmt.Fprintln(r.out, "Habit coach ready. Type /help for commands.")
	for {
		input, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(input) == 0 {
				return nil
			}
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(input)
		if line == "" {
			continue
		}

		switch cmd, rest := splitCommand(line); cmd {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(r.out, help)
		case "/reset":
			r.sessions.Clear(r.userKey)
			fmt.Fprintln(r.out, "Conversation reset.")
		case "/image":
			r.sendImage(ctx, rest)
		default:
			r.send(ctx, domain.InboundMessage{UserKey: r.userKey, Text: line})
		}
	}
}

func (r *REPL) send(ctx context.Context, msg domain.InboundMessage) {
	reply := r.coach.Handle(ctx, msg)
	fmt.Fprintln(r.out, reply.Text)
}

func (r *REPL) sendImage(ctx context.Context, args string) {
	path, text := splitPath(args)
	if path == "" {
		fmt.Fprintln(r.out, "Usage: /image <path> [text]")
		return
	}

	data, err := r.readImage(path)
	if err != nil {
		f := &orchestrator.Failure{Reason: orchestrator.ReasonInvalidImage, Err: err}
		fmt.Fprintf(r.out, "%s (%v)\n", f.Reply(), err)
		return
	}
	r.send(ctx, domain.InboundMessage{UserKey: r.userKey, Text: text, Image: data, ImageRef: path})
}

func (r *REPL) readImage(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > r.maxImageBytes {
		return nil, fmt.Errorf("%s is larger than %d bytes", path, r.maxImageBytes)
	}
	return os.ReadFile(path)
}

// splitPath splits an /image argument into the path and the remaining text.
// A path wrapped in single or double quotes may contain spaces.
func splitPath(args string) (string, string) {
	args = strings.TrimSpace(args)
	if args != "" && (args[0] == '"' || args[0] == '\'') {
		if end := strings.IndexByte(args[1:], args[0]); end >= 0 {
			return args[1 : end+1], strings.TrimSpace(args[end+2:])
		}
	}
	return splitCommand(args)
}

// splitCommand splits off the first whitespace-separated word.
func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}
