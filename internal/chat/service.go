// Package chat is the entry point the front-ends call: it runs turns for a
// session and applies setting changes.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/ChamsBouzaiene/dodochat/internal/engine"
	"github.com/ChamsBouzaiene/dodochat/internal/models"
	"github.com/ChamsBouzaiene/dodochat/internal/providers"
	"github.com/ChamsBouzaiene/dodochat/internal/session"
	"github.com/ChamsBouzaiene/dodochat/internal/transcript"
)

// Placeholder is the assistant entry shown until the first fragment arrives.
const Placeholder = "⏳ 正在思考..."

// ErrBusy is returned when a session already runs a turn.
var ErrBusy = errors.New("session is already processing a message")

// Update is one re-render of the chat: the full transcript to display and the
// input box content, which is always cleared.
type Update struct {
	Transcript []transcript.Entry `json:"transcript"`
	Input      string             `json:"input"`

	// Fragment is the display fragment behind this update, nil for the user,
	// placeholder and final updates.
	Fragment *engine.Fragment `json:"-"`
	// Result is set on the final update only.
	Result *engine.TurnResult `json:"-"`
}

// Settings is the settings view of a session.
type Settings struct {
	session.State
	SupportsReasoning bool `json:"supports_reasoning"`
}

// Service runs turns and setting changes against live sessions.
type Service struct {
	mu       sync.RWMutex
	registry *models.Registry
	factory  session.ClientFactory
	sessions *session.Manager
	log      logrus.FieldLogger
}

// NewService wires the service. A nil logger discards output.
func NewService(reg *models.Registry, factory session.ClientFactory, sessions *session.Manager, log logrus.FieldLogger) *Service {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Service{
		registry: reg,
		factory:  factory,
		sessions: sessions,
		log:      log,
	}
}

// Registry returns the current model registry.
func (s *Service) Registry() *models.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

// Sessions returns the session manager.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// NewSession starts a session with the current defaults.
func (s *Service) NewSession() *session.Conversation {
	conv := s.sessions.Create(s.Registry())
	st := conv.State()
	s.log.WithFields(logrus.Fields{
		"session": st.ID,
		"model":   st.SelectedModel,
	}).Info("session started")
	return conv
}

// SwapRegistry installs a reloaded registry and re-applies every session's
// model selection against it.
func (s *Service) SwapRegistry(reg *models.Registry) {
	s.mu.Lock()
	s.registry = reg
	s.mu.Unlock()

	s.sessions.Each(func(c *session.Conversation) {
		c.Update(func(st *session.State) { st.Reconcile(reg) })
	})
	s.log.WithField("models", reg.Len()).Info("model registry reloaded")
}

// Submit runs one turn against the session transcript. An empty message yields
// a closed channel. The channel is closed after the final update; a caller that
// stops reading early must cancel ctx.
func (s *Service) Submit(ctx context.Context, conv *session.Conversation, message string) (<-chan Update, error) {
	return s.submit(ctx, conv, message, nil, false)
}

// SubmitWithHistory runs one turn whose context comes from a caller-held
// history instead of the session transcript.
func (s *Service) SubmitWithHistory(ctx context.Context, conv *session.Conversation, message string, history []transcript.Entry) (<-chan Update, error) {
	return s.submit(ctx, conv, message, history, true)
}

func (s *Service) submit(ctx context.Context, conv *session.Conversation, message string, snapshot []transcript.Entry, useSnapshot bool) (<-chan Update, error) {
	out := make(chan Update, 1)
	if strings.TrimSpace(message) == "" {
		close(out)
		return out, nil
	}

	turnCtx, cancel := context.WithCancel(ctx)
	if !conv.BeginTurn(cancel) {
		cancel()
		return nil, ErrBusy
	}

	reg := s.Registry()
	st := conv.State()
	profile := st.Profile(reg)
	log := s.log.WithFields(logrus.Fields{
		"session": st.ID,
		"model":   profile.ID,
	})
	log.WithField("message", message).Info("user input")

	var history []transcript.Entry
	var msgs []engine.ChatMessage
	if useSnapshot {
		history = append([]transcript.Entry(nil), snapshot...)
		msgs = engine.BuildContext(st.ContextParams(), history, message)
	} else {
		history = conv.Entries()
		msgs = engine.BuildContextFromRecords(st.ContextParams(), conv.Records(), message)
	}

	client, err := conv.Client(profile, s.factory)
	if err != nil {
		client = failingClient{err: err}
	}
	req := engine.TurnRequest{
		Model:    profile.ID,
		Messages: msgs,
		Options:  providers.Options(profile, st.ReasoningEnabled),
		Hooks:    engine.Hooks{engine.LoggerHook{L: log}},
	}

	go func() {
		defer close(out)
		defer conv.EndTurn()
		defer cancel()
		s.runTurn(turnCtx, conv, client, req, message, history, out, log)
	}()
	return out, nil
}

func (s *Service) runTurn(ctx context.Context, conv *session.Conversation, client engine.LLMClient, req engine.TurnRequest, message string, history []transcript.Entry, out chan<- Update, log logrus.FieldLogger) {
	start := time.Now()
	userRec := transcript.UserRecord(message)
	base := make([]transcript.Entry, 0, len(history)+1)
	base = append(append(base, history...), userRec.Entry())

	abandoned := false
	send := func(u Update) {
		if abandoned {
			return
		}
		select {
		case out <- u:
		case <-ctx.Done():
			abandoned = true
		}
	}
	withAssistant := func(text string) []transcript.Entry {
		entries := make([]transcript.Entry, len(base), len(base)+1)
		copy(entries, base)
		return append(entries, transcript.Entry{Role: transcript.RoleAssistant, Content: transcript.PlainText(text)})
	}

	send(Update{Transcript: append([]transcript.Entry(nil), base...)})
	send(Update{Transcript: withAssistant(Placeholder)})

	turn := engine.StartTurn(ctx, client, req)
	var display engine.Display
	for f := range turn.Fragments() {
		send(Update{Transcript: withAssistant(display.Apply(f)), Fragment: &f})
	}
	res := turn.Wait()

	if ctx.Err() != nil {
		log.WithField("duration", units.HumanDuration(time.Since(start))).Warn("turn abandoned")
		return
	}

	conv.Append(userRec, res.Record())
	entry := res.Entry()

	fields := logrus.Fields{
		"duration":        units.HumanDuration(time.Since(start)),
		"answer_chars":    len(res.Answer),
		"reasoning_shown": res.ReasoningShown,
	}
	if res.Fault != nil {
		log.WithFields(fields).WithField("kind", res.Fault.Kind).WithError(res.Fault).Error("turn failed")
	} else {
		log.WithFields(fields).Info("turn finished")
		log.WithField("reply", res.Answer).Debug("assistant reply")
	}

	send(Update{Transcript: append(base, entry), Result: &res})
}

// Reset clears the session transcript.
func (s *Service) Reset(conv *session.Conversation) {
	conv.Reset()
	s.log.WithField("session", conv.ID()).Info("transcript reset")
}

// UpdateModel selects a model for the session. Unknown ids fall back to the
// first configured model.
func (s *Service) UpdateModel(conv *session.Conversation, id string) Settings {
	reg := s.Registry()
	var p models.Profile
	st := conv.Update(func(st *session.State) { p = st.SelectModel(reg, id) })
	s.log.WithFields(logrus.Fields{
		"session":   st.ID,
		"model":     p.ID,
		"requested": id,
		"reasoning": st.ReasoningEnabled,
	}).Info("model selected")
	return Settings{State: st, SupportsReasoning: p.SupportsReasoning}
}

// UpdateContextSize sets how many rounds of history are sent and returns the
// status line shown to the user.
func (s *Service) UpdateContextSize(conv *session.Conversation, n int) string {
	var eff int
	conv.Update(func(st *session.State) { eff = st.SetContextTurns(n) })
	s.log.WithFields(logrus.Fields{"session": conv.ID(), "context_turns": eff}).Info("context size updated")
	return fmt.Sprintf("上下文记忆已设置为 %d 轮对话", eff)
}

// UpdateSystemPrompt replaces the system prompt; blank input restores the
// configured default. It returns the status line shown to the user.
func (s *Service) UpdateSystemPrompt(conv *session.Conversation, text string) string {
	fallback := s.sessions.Defaults().SystemPrompt
	conv.Update(func(st *session.State) { st.SetSystemPrompt(text, fallback) })
	s.log.WithField("session", conv.ID()).Info("system prompt updated")
	return "系统提示词已更新"
}

// ToggleReasoning turns the reasoning channel on or off and returns the
// effective value.
func (s *Service) ToggleReasoning(conv *session.Conversation, on bool) bool {
	reg := s.Registry()
	var eff bool
	conv.Update(func(st *session.State) { eff = st.SetReasoning(reg, on) })
	s.log.WithFields(logrus.Fields{"session": conv.ID(), "requested": on, "reasoning": eff}).Info("reasoning toggled")
	return eff
}

// Settings returns the session settings.
func (s *Service) Settings(conv *session.Conversation) Settings {
	st := conv.State()
	return Settings{State: st, SupportsReasoning: st.Profile(s.Registry()).SupportsReasoning}
}

// Models returns the configured profiles in order.
func (s *Service) Models() []models.Profile {
	return s.Registry().List()
}

// failingClient reports a client construction error as the turn's fault.
type failingClient struct{ err error }

func (c failingClient) Stream(context.Context, string, []engine.ChatMessage, engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	events := make(chan engine.StreamEvent)
	errs := make(chan error, 1)
	close(events)
	errs <- &engine.Fault{Kind: engine.FaultProvider, Err: c.err}
	close(errs)
	return events, errs
}
