package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/dodochat/internal/chat"
	"github.com/ChamsBouzaiene/dodochat/internal/config"
	engineprotocol "github.com/ChamsBouzaiene/dodochat/internal/engine/protocol"
	"github.com/ChamsBouzaiene/dodochat/internal/session"
)

func newStdioCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve the NDJSON protocol on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runStdIOEngine(ctx, flags)
		},
	}
}

func runStdIOEngine(ctx context.Context, flags *rootFlags) error {
	env, err := prepareRuntimeEnv(flags, false)
	if err != nil {
		return err
	}
	defer env.Close()

	env.Log.Info("starting stdio bridge")
	reload := func() (int, error) {
		if err := env.reload(); err != nil {
			return 0, err
		}
		return env.Chat.Registry().Len(), nil
	}
	runner := newStdIORunner(os.Stdin, os.Stdout, env.Chat, reload, env.Log)
	env.OnReload(func(cfg *config.Config) {
		runner.emitEvent(engineprotocol.NewConfigReloadedEvent(len(cfg.Models)))
	})
	runner.emitEvent(engineprotocol.NewStatusEvent("", "engine_ready", "stdio protocol ready"))
	return runner.Run(ctx)
}

type stdioRunner struct {
	scanner *bufio.Scanner
	writer  *bufio.Writer
	events  chan engineprotocol.Event
	chat    *chat.Service
	reload  func() (int, error)
	log     logrus.FieldLogger

	// turns tracks user_message goroutines so events is closed after them.
	turns  sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func newStdIORunner(in io.Reader, out io.Writer, svc *chat.Service, reload func() (int, error), log logrus.FieldLogger) *stdioRunner {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	return &stdioRunner{
		scanner: scanner,
		writer:  bufio.NewWriter(out),
		events:  make(chan engineprotocol.Event, 256),
		chat:    svc,
		reload:  reload,
		log:     log,
	}
}

func (r *stdioRunner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go r.flushEvents(errCh)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for r.scanner.Scan() {
			select {
			case lines <- r.scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	eof := false
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				eof = true
				break loop
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := r.handleLine(ctx, line); err != nil {
				r.log.WithError(err).Debug("stdio command error")
			}
		}
	}

	if eof {
		if err := r.scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			r.emitEvent(engineprotocol.NewErrorEvent("", fmt.Sprintf("stdin error: %v", err), "protocol_error", ""))
		}
	}

	// The client is gone; abandon running turns and drain.
	r.chat.Sessions().Each(func(c *session.Conversation) { c.Cancel() })
	r.turns.Wait()
	r.mu.Lock()
	r.closed = true
	close(r.events)
	r.mu.Unlock()
	return <-errCh
}

func (r *stdioRunner) flushEvents(errCh chan<- error) {
	for ev := range r.events {
		if err := r.writeEvent(ev); err != nil {
			r.log.WithError(err).Error("stdio write failed")
			// Keep draining so emitters never block.
			for range r.events {
			}
			errCh <- err
			return
		}
	}
	errCh <- r.writer.Flush()
}

func (r *stdioRunner) writeEvent(ev engineprotocol.Event) error {
	payload, err := engineprotocol.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := r.writer.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return r.writer.Flush()
}

// emitEvent queues an event. It blocks while the buffer is full so streamed
// fragments are never dropped.
func (r *stdioRunner) emitEvent(ev engineprotocol.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.log.WithField("event", ev.GetType()).Debug("stdio: dropping event after shutdown")
		return
	}
	r.events <- ev
}

func (r *stdioRunner) handleLine(ctx context.Context, line string) error {
	cmd, err := engineprotocol.DecodeCommand([]byte(line))
	if err != nil {
		r.emitEvent(engineprotocol.NewErrorEvent("", err.Error(), "invalid_command", truncate(line, 256)))
		return err
	}

	switch c := cmd.(type) {
	case engineprotocol.StartSessionCommand:
		r.startSession(c)
		return nil
	case engineprotocol.ListModelsCommand:
		r.emitEvent(engineprotocol.NewModelsEvent(r.chat.Models()))
		return nil
	case engineprotocol.ReloadConfigCommand:
		if r.reload == nil {
			r.emitEvent(engineprotocol.NewErrorEvent("", "config reload not available", "config_error", ""))
			return errors.New("config reload not available")
		}
		n, err := r.reload()
		if err != nil {
			r.emitEvent(engineprotocol.NewErrorEvent("", err.Error(), "config_error", ""))
			return err
		}
		r.emitEvent(engineprotocol.NewConfigReloadedEvent(n))
		return nil
	}

	sc, ok := cmd.(engineprotocol.SessionCommand)
	if !ok {
		return fmt.Errorf("unhandled command %s", cmd.GetType())
	}
	conv, err := r.chat.Sessions().Get(sc.Session())
	if err != nil {
		r.emitEvent(engineprotocol.NewErrorEvent(sc.Session(), err.Error(), "session_error", ""))
		return err
	}

	switch c := cmd.(type) {
	case engineprotocol.UserMessageCommand:
		return r.userMessage(ctx, conv, c)
	case engineprotocol.CancelRequestCommand:
		if !conv.Cancel() {
			r.emitEvent(engineprotocol.NewErrorEvent(conv.ID(), "no turn is running", "not_running", ""))
		}
	case engineprotocol.ResetCommand:
		r.chat.Reset(conv)
		r.emitEvent(engineprotocol.NewStatusEvent(conv.ID(), "reset", ""))
	case engineprotocol.UpdateModelCommand:
		r.chat.UpdateModel(conv, c.ModelID)
		r.emitSettings(conv)
	case engineprotocol.UpdateContextSizeCommand:
		r.emitEvent(engineprotocol.NewStatusEvent(conv.ID(), "context_size_updated", r.chat.UpdateContextSize(conv, c.ContextSize)))
		r.emitSettings(conv)
	case engineprotocol.UpdateSystemPromptCommand:
		r.emitEvent(engineprotocol.NewStatusEvent(conv.ID(), "system_prompt_updated", r.chat.UpdateSystemPrompt(conv, c.Prompt)))
		r.emitSettings(conv)
	case engineprotocol.ToggleReasoningCommand:
		r.chat.ToggleReasoning(conv, c.Enabled)
		r.emitSettings(conv)
	case engineprotocol.GetSettingsCommand:
		r.emitSettings(conv)
	default:
		return fmt.Errorf("unhandled command %s", cmd.GetType())
	}
	return nil
}

func (r *stdioRunner) startSession(c engineprotocol.StartSessionCommand) {
	if c.SessionID != "" {
		if conv, err := r.chat.Sessions().Get(c.SessionID); err == nil {
			r.emitEvent(engineprotocol.NewSessionStartedEvent(conv.ID(), true, conv.Entries()))
			r.emitSettings(conv)
			return
		}
	}
	conv := r.chat.NewSession()
	r.emitEvent(engineprotocol.NewSessionStartedEvent(conv.ID(), false, nil))
	r.emitSettings(conv)
}

// userMessage starts the turn in order with other commands and streams it in
// the background so cancel_request can arrive meanwhile.
func (r *stdioRunner) userMessage(ctx context.Context, conv *session.Conversation, c engineprotocol.UserMessageCommand) error {
	requestID := c.RequestID
	if requestID == "" {
		requestID = engineprotocol.NewRequestID()
	}
	if strings.TrimSpace(c.Message) == "" {
		r.emitEvent(engineprotocol.NewErrorEvent(conv.ID(), "message is empty", "empty_message", requestID))
		return errors.New("empty message")
	}

	updates, err := r.chat.Submit(ctx, conv, c.Message)
	if err != nil {
		kind := "engine_error"
		if errors.Is(err, chat.ErrBusy) {
			kind = "busy"
		}
		r.emitEvent(engineprotocol.NewErrorEvent(conv.ID(), err.Error(), kind, requestID))
		return err
	}

	r.turns.Add(1)
	go func() {
		defer r.turns.Done()
		finished := false
		for u := range updates {
			switch {
			case u.Fragment != nil:
				r.emitEvent(engineprotocol.NewFragmentEvent(conv.ID(), requestID, *u.Fragment))
			case u.Result != nil:
				finished = true
				r.emitEvent(engineprotocol.NewTurnDoneEvent(conv.ID(), requestID, *u.Result))
			}
		}
		if !finished {
			r.emitEvent(engineprotocol.NewCancelledEvent(conv.ID(), requestID, "cancelled by request"))
		}
	}()
	return nil
}

func (r *stdioRunner) emitSettings(conv *session.Conversation) {
	st := r.chat.Settings(conv)
	r.emitEvent(engineprotocol.NewSettingsEvent(st.ID, st.SelectedModel, st.ContextTurns, st.SystemPrompt, st.ReasoningEnabled, st.SupportsReasoning))
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
