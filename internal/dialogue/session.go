package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/internal/knowledge"
	"github.com/h1v3-io/helpdesk/internal/submit"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

var (
	// ErrAttachmentsClosed is returned when files are added or removed
	// outside the description step.
	ErrAttachmentsClosed = errors.New("dialogue: attachments are only accepted while describing the issue")
	// ErrClosed is returned by a closed session.
	ErrClosed = errors.New("dialogue: session closed")
)

// Submitter runs the network side of ticket submission.
type Submitter interface {
	ListAdmins(ctx context.Context) ([]protocol.Admin, error)
	Submit(ctx context.Context, req submit.Request) (submit.Result, error)
	RecordSolved(ctx context.Context, tc protocol.TicketContext, user protocol.User)
}

// Recorder persists the chat audit log.
type Recorder interface {
	Record(ctx context.Context, entry protocol.ChatLogEntry) error
}

// Config holds a session's collaborators. Loader and Submitter are required.
type Config struct {
	ID          string
	User        protocol.User
	Loader      knowledge.Loader
	Submitter   Submitter
	Attachments *attachment.Manager
	Clock       Clock
	Delays      Delays

	// OnMessage is called for every appended message, in log order, with
	// the session lock held. It must not call back into the session.
	OnMessage func(protocol.Message)
	// OnTyping is called before a pause or a network round-trip.
	OnTyping func()
	Recorder Recorder
	Logger   *slog.Logger
}

// Session drives one conversation. Events are processed one at a time in
// arrival order under turn. mu guards the session data and is released
// while a turn waits on the network or a pacing delay, so readers and Close
// never block behind a submission.
type Session struct {
	cfg    Config
	logger *slog.Logger

	turn       sync.Mutex
	mu         sync.Mutex
	engine     *Engine
	started    bool
	failed     bool
	closed     bool
	state      State
	messages   []protocol.Message
	epoch      uint64
	timers     map[uint64]Timer
	nextTimer  uint64
	lastActive time.Time
}

type scheduled struct {
	event Event
	epoch uint64
	wait  time.Duration
}

// NewSession creates a session. Call Start before dispatching events.
func NewSession(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Attachments == nil {
		cfg.Attachments = attachment.NewManager(attachment.DefaultPolicy())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:        cfg,
		logger:     logger.With("session", cfg.ID),
		state:      Initial(),
		timers:     make(map[uint64]Timer),
		lastActive: cfg.Clock.Now(),
	}
}

// lockTurn acquires turn then mu. The returned func releases both.
func (s *Session) lockTurn() func() {
	s.turn.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.turn.Unlock()
	}
}

// unlocked runs fn with mu released. It reports false when the session was
// closed meanwhile.
func (s *Session) unlocked(fn func()) bool {
	s.mu.Unlock()
	fn()
	s.mu.Lock()
	return !s.closed
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.ID }

// User returns the person the session is talking to.
func (s *Session) User() protocol.User { return s.cfg.User }

// Start loads the knowledge base and greets the user. A load failure is
// terminal: the session answers every later event with a restart notice.
func (s *Session) Start(ctx context.Context) error {
	defer s.lockTurn()()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return errors.New("dialogue: session already started")
	}
	s.started = true

	var (
		kb  *protocol.KnowledgeBase
		err error
	)
	if !s.unlocked(func() { kb, err = s.cfg.Loader.Load(ctx) }) {
		return ErrClosed
	}
	if err != nil {
		s.failed = true
		s.logger.Error("knowledge base load failed", "error", err)
		s.appendMessage(protocol.SenderBot, TextLoadFailed, nil)
		return err
	}
	if err := knowledge.Validate(kb); err != nil {
		s.logger.Warn("knowledge base has problems", "error", err)
	}

	s.engine = NewEngine(kb)
	s.logger.Info("session started", "user", s.cfg.User.Username)
	s.run(ctx, s.engine.Welcome(s.cfg.User), false)
	return nil
}

// Dispatch applies a user event and returns the messages it appended.
func (s *Session) Dispatch(ctx context.Context, ev Event) ([]protocol.Message, error) {
	defer s.lockTurn()()

	if s.closed {
		return nil, ErrClosed
	}
	s.lastActive = s.cfg.Clock.Now()
	mark := len(s.messages)

	actionType, actionValue := describe(ev)
	if t, ok := ev.(Text); ok && strings.TrimSpace(t.Body) != "" {
		s.appendMessage(protocol.SenderUser, strings.TrimSpace(t.Body), nil)
	}

	if s.engine == nil {
		s.appendMessage(protocol.SenderBot, TextRestart, nil)
	} else {
		s.logger.Debug("dispatch", "state", s.state.Current, "event", actionValue)
		s.run(ctx, s.engine.Apply(s.state, ev), true)
	}

	added := s.since(mark)
	s.record(ctx, actionType, actionValue, added)
	return added, nil
}

// fire delivers a scheduled event unless a newer event was accepted.
func (s *Session) fire(id uint64, sch scheduled) {
	defer s.lockTurn()()

	delete(s.timers, id)
	if s.closed || s.engine == nil {
		return
	}
	if sch.epoch != s.epoch {
		s.logger.Debug("dropping stale scheduled event", "event", fmt.Sprint(sch.event))
		return
	}
	s.run(context.Background(), s.engine.Apply(s.state, sch.event), false)
}

// run commits t and executes its effects until no work is left. Effects
// that produce events feed them straight back into the engine; scheduled
// events with a zero wait are processed inline.
func (s *Session) run(ctx context.Context, t Transition, paced bool) {
	var inline []scheduled

	for {
		if paced {
			if d := s.cfg.Delays.pace(t.Pace); d > 0 {
				s.typing()
				var err error
				if !s.unlocked(func() { err = s.cfg.Clock.Sleep(ctx, d) }) {
					return
				}
				if err != nil {
					s.logger.Debug("pacing delay cut short", "error", err)
				}
			}
			paced = false
		}

		s.state = t.State
		if t.Accepted {
			s.epoch++
		}
		for _, r := range t.Replies {
			s.appendMessage(protocol.SenderBot, r.Text, r.Buttons)
		}

		var follow Event
		for _, eff := range t.Effects {
			switch eff := eff.(type) {
			case QueryAdmins:
				s.typing()
				var (
					admins []protocol.Admin
					err    error
				)
				if !s.unlocked(func() { admins, err = s.cfg.Submitter.ListAdmins(ctx) }) {
					return
				}
				if err != nil {
					follow = AdminsUnavailable{Err: err}
				} else {
					follow = AdminsLoaded{Admins: admins}
				}
			case Submit:
				s.typing()
				req := eff.Request
				req.User = s.cfg.User
				var (
					res submit.Result
					err error
				)
				if !s.unlocked(func() { res, err = s.cfg.Submitter.Submit(ctx, req) }) {
					s.logger.Info("session closed during submission", "ticket", res.TicketID)
					return
				}
				if err != nil {
					follow = SubmissionFailed{Err: err}
				} else {
					follow = TicketSubmitted{Result: res}
				}
			case RecordSolved:
				tc := eff.Context
				if !s.unlocked(func() { s.cfg.Submitter.RecordSolved(ctx, tc, s.cfg.User) }) {
					return
				}
			case Schedule:
				sch := scheduled{event: eff.Event, epoch: s.epoch, wait: s.cfg.Delays.wait(eff.Wait)}
				if sch.wait <= 0 {
					inline = append(inline, sch)
				} else {
					s.startTimer(sch)
				}
			}
		}

		if follow != nil {
			t = s.engine.Apply(s.state, follow)
			continue
		}
		next, ok := s.popLive(&inline)
		if !ok {
			return
		}
		t = s.engine.Apply(s.state, next.event)
	}
}

// popLive removes queued events up to and including the first one still
// valid for the current epoch.
func (s *Session) popLive(queue *[]scheduled) (scheduled, bool) {
	for len(*queue) > 0 {
		next := (*queue)[0]
		*queue = (*queue)[1:]
		if next.epoch == s.epoch {
			return next, true
		}
	}
	return scheduled{}, false
}

func (s *Session) startTimer(sch scheduled) {
	s.nextTimer++
	id := s.nextTimer
	s.timers[id] = s.cfg.Clock.AfterFunc(sch.wait, func() { s.fire(id, sch) })
}

// Attach adds files to the pending attachment list.
func (s *Session) Attach(ctx context.Context, files ...attachment.File) ([]attachment.File, error) {
	defer s.lockTurn()()

	if err := s.attachable(); err != nil {
		return nil, err
	}
	list, err := s.cfg.Attachments.Add(s.state.Context.AttachedFiles, files...)
	if err != nil {
		return s.attachmentsLocked(), err
	}
	s.state = State{Current: s.state.Current, Context: s.state.Context.WithFiles(list)}
	for _, f := range files {
		s.record(ctx, protocol.LogAttachment, f.Name, nil)
	}
	return s.attachmentsLocked(), nil
}

// AttachClipboard adds a pasted image to the pending attachment list.
func (s *Session) AttachClipboard(ctx context.Context, item attachment.ClipboardItem) (attachment.File, error) {
	defer s.lockTurn()()

	if err := s.attachable(); err != nil {
		return attachment.File{}, err
	}
	list, f, err := s.cfg.Attachments.AddFromClipboard(s.state.Context.AttachedFiles, item)
	if err != nil {
		return attachment.File{}, err
	}
	s.state = State{Current: s.state.Current, Context: s.state.Context.WithFiles(list)}
	s.record(ctx, protocol.LogAttachment, f.Name, nil)
	return f, nil
}

// Detach removes the attachment at index i.
func (s *Session) Detach(ctx context.Context, i int) ([]attachment.File, error) {
	defer s.lockTurn()()

	if err := s.attachable(); err != nil {
		return nil, err
	}
	old := s.state.Context.AttachedFiles
	list, err := s.cfg.Attachments.RemoveAt(old, i)
	if err != nil {
		return s.attachmentsLocked(), err
	}
	s.state = State{Current: s.state.Current, Context: s.state.Context.WithFiles(list)}
	s.record(ctx, protocol.LogDetach, old[i].Name, nil)
	return s.attachmentsLocked(), nil
}

func (s *Session) attachable() error {
	if s.closed {
		return ErrClosed
	}
	if s.state.Current != DescribingIssue {
		return ErrAttachmentsClosed
	}
	s.lastActive = s.cfg.Clock.Now()
	return nil
}

// Attachments returns a copy of the pending attachment list.
func (s *Session) Attachments() []attachment.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachmentsLocked()
}

func (s *Session) attachmentsLocked() []attachment.File {
	return append([]attachment.File(nil), s.state.Context.AttachedFiles...)
}

// State returns a copy of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Current: s.state.Current, Context: s.state.Context.clone()}
}

// Messages returns the log entries after the first n.
func (s *Session) Messages(after int) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if after < 0 {
		after = 0
	}
	return s.since(after)
}

// LastActive returns when the user last interacted with the session.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Failed reports whether the knowledge base could not be loaded.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Close stops pending scheduled events. Work already in flight is not
// interrupted, but nothing it returns is applied.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.logger.Info("session closed")
}

func (s *Session) since(n int) []protocol.Message {
	if n >= len(s.messages) {
		return nil
	}
	return append([]protocol.Message(nil), s.messages[n:]...)
}

func (s *Session) appendMessage(sender protocol.Sender, text string, buttons []protocol.Button) {
	msg := protocol.Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    sender,
		Buttons:   append([]protocol.Button(nil), buttons...),
		Timestamp: s.cfg.Clock.Now(),
	}
	s.messages = append(s.messages, msg)
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(msg)
	}
}

func (s *Session) typing() {
	if s.cfg.OnTyping != nil {
		s.cfg.OnTyping()
	}
}

func (s *Session) record(ctx context.Context, actionType, value string, added []protocol.Message) {
	if s.cfg.Recorder == nil {
		return
	}
	var replies []string
	for _, m := range added {
		if m.Sender == protocol.SenderBot {
			replies = append(replies, m.Text)
		}
	}
	entry := protocol.ChatLogEntry{
		SessionID:   s.cfg.ID,
		Username:    s.cfg.User.Username,
		ActionType:  actionType,
		ActionValue: value,
		BotResponse: strings.Join(replies, "\n\n"),
		CreatedAt:   s.cfg.Clock.Now(),
	}
	if err := s.cfg.Recorder.Record(ctx, entry); err != nil {
		s.logger.Warn("failed to record chat log", "error", err)
	}
}

func describe(ev Event) (string, string) {
	switch ev := ev.(type) {
	case Action:
		return protocol.LogAction, ev.Token()
	case Text:
		return protocol.LogText, strings.TrimSpace(ev.Body)
	}
	return protocol.LogAction, fmt.Sprintf("%T", ev)
}
