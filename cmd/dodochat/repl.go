package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/dodochat/internal/chat"
	"github.com/ChamsBouzaiene/dodochat/internal/engine"
	"github.com/ChamsBouzaiene/dodochat/internal/session"
)

const replHelp = `commands:
  /models              list configured models
  /model <id>          switch model
  /context <n>         rounds of history sent with each message
  /system [text]       set the system prompt, empty restores the default
  /reasoning on|off    show or hide the model's reasoning
  /settings            show the session settings
  /reset               clear the conversation
  /quit                exit`

func newREPLCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Chat in the terminal (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context(), flags, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runREPL(ctx context.Context, flags *rootFlags, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := prepareRuntimeEnv(flags, true)
	if err != nil {
		return err
	}
	defer env.Close()

	r := newREPL(env.Chat, out)
	fmt.Fprintf(out, "dodochat %s, model %s. /help for commands.\n", version, r.conv.State().SelectedModel)

	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "you> ")
		if !s.Scan() {
			break
		}
		if quit := r.handle(ctx, s.Text()); quit {
			break
		}
	}
	fmt.Fprintln(out)
	return s.Err()
}

type repl struct {
	chat *chat.Service
	conv *session.Conversation
	out  io.Writer
}

func newREPL(svc *chat.Service, out io.Writer) *repl {
	return &repl{chat: svc, conv: svc.NewSession(), out: out}
}

// handle runs one input line and reports whether the loop should stop.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.send(ctx, line)
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/reset":
		r.chat.Reset(r.conv)
		fmt.Fprintln(r.out, "conversation cleared")
	case "/models":
		current := r.conv.State().SelectedModel
		for _, p := range r.chat.Models() {
			mark := " "
			if p.ID == current {
				mark = "*"
			}
			extra := ""
			if p.SupportsReasoning {
				extra = " (reasoning)"
			}
			fmt.Fprintf(r.out, "%s %s [%s]%s\n", mark, p.ID, p.Provider, extra)
		}
	case "/model":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /model <id>")
			return false
		}
		st := r.chat.UpdateModel(r.conv, arg)
		if st.SelectedModel != arg {
			fmt.Fprintf(r.out, "unknown model %q, using %s\n", arg, st.SelectedModel)
		} else {
			fmt.Fprintf(r.out, "model: %s\n", st.SelectedModel)
		}
	case "/context":
		n, err := strconv.Atoi(arg)
		if err != nil {
			fmt.Fprintln(r.out, "usage: /context <n>")
			return false
		}
		fmt.Fprintln(r.out, r.chat.UpdateContextSize(r.conv, n))
	case "/system":
		fmt.Fprintln(r.out, r.chat.UpdateSystemPrompt(r.conv, arg))
	case "/reasoning":
		var on bool
		switch strings.ToLower(arg) {
		case "on", "true", "1":
			on = true
		case "off", "false", "0":
		default:
			fmt.Fprintln(r.out, "usage: /reasoning on|off")
			return false
		}
		eff := r.chat.ToggleReasoning(r.conv, on)
		if on && !eff {
			fmt.Fprintln(r.out, "the current model does not support reasoning")
		} else {
			fmt.Fprintf(r.out, "reasoning: %v\n", eff)
		}
	case "/settings":
		st := r.chat.Settings(r.conv)
		fmt.Fprintf(r.out, "model: %s\ncontext: %d\nreasoning: %v (supported: %v)\nsystem prompt: %s\n",
			st.SelectedModel, st.ContextTurns, st.ReasoningEnabled, st.SupportsReasoning, st.SystemPrompt)
	default:
		fmt.Fprintf(r.out, "unknown command %s, /help for commands\n", name)
	}
	return false
}

// send streams one turn, printing fragments as they arrive.
func (r *repl) send(ctx context.Context, message string) {
	updates, err := r.chat.Submit(ctx, r.conv, message)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}

	fmt.Fprint(r.out, "bot> ")
	wrote := false
	for u := range updates {
		if u.Fragment == nil {
			continue
		}
		if u.Fragment.Kind == engine.FragmentError && wrote {
			fmt.Fprintln(r.out)
		}
		fmt.Fprint(r.out, u.Fragment.Text)
		wrote = true
	}
	fmt.Fprintln(r.out)
}
