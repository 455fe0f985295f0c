package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/internal/knowledge"
	"github.com/h1v3-io/helpdesk/internal/submit"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

type staticLoader struct {
	kb  *protocol.KnowledgeBase
	err error
}

func (l staticLoader) Load(ctx context.Context) (*protocol.KnowledgeBase, error) {
	return l.kb, l.err
}

type fakeSubmitter struct {
	mu        sync.Mutex
	admins    []protocol.Admin
	adminsErr error
	result    submit.Result
	submitErr error

	requests []submit.Request
	solved   []protocol.TicketContext
}

func (f *fakeSubmitter) ListAdmins(ctx context.Context) ([]protocol.Admin, error) {
	return f.admins, f.adminsErr
}

func (f *fakeSubmitter) Submit(ctx context.Context, req submit.Request) (submit.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, f.submitErr
}

func (f *fakeSubmitter) RecordSolved(ctx context.Context, tc protocol.TicketContext, user protocol.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.solved = append(f.solved, tc)
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeClock records sleeps and holds AfterFunc callbacks until Fire.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	pending []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.pending = append(c.pending, t)
	return t
}

// Fire runs every pending callback that has not been stopped.
func (c *fakeClock) Fire() int {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	n := 0
	for _, t := range pending {
		c.mu.Lock()
		stopped := t.stopped
		c.mu.Unlock()
		if !stopped {
			t.f()
			n++
		}
	}
	return n
}

type memRecorder struct {
	mu      sync.Mutex
	entries []protocol.ChatLogEntry
}

func (r *memRecorder) Record(ctx context.Context, e protocol.ChatLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func newTestSession(t *testing.T, sub *fakeSubmitter, opts ...func(*Config)) *Session {
	t.Helper()
	cfg := Config{
		ID:        "s-1",
		User:      protocol.User{Username: "ana", FullName: "Ana Torres"},
		Loader:    staticLoader{kb: loadTestKB(t)},
		Submitter: sub,
		Clock:     newFakeClock(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := NewSession(cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func dispatch(t *testing.T, s *Session, tokens ...string) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, tok := range tokens {
		msgs, err := s.Dispatch(context.Background(), MustParseAction(tok))
		if err != nil {
			t.Fatalf("dispatch %s: %v", tok, err)
		}
		out = append(out, msgs...)
	}
	return out
}

func texts(msgs []protocol.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestSession_StartGreetsThenShowsMenu(t *testing.T) {
	s := newTestSession(t, &fakeSubmitter{})

	msgs := s.Messages(0)
	if len(msgs) != 2 {
		t.Fatalf("expected welcome and menu, got %v", texts(msgs))
	}
	if msgs[0].Text != "Hi, **Ana Torres**! 👋 I'm your IT virtual assistant. How can I help you today?" {
		t.Errorf("unexpected welcome %q", msgs[0].Text)
	}
	if msgs[1].Text != textMainMenu || len(msgs[1].Buttons) != 2 {
		t.Errorf("unexpected menu %+v", msgs[1])
	}
	for _, m := range msgs {
		if m.Sender != protocol.SenderBot || m.ID == "" {
			t.Errorf("unexpected message %+v", m)
		}
	}
}

func TestSession_LoadFailureIsTerminal(t *testing.T) {
	s := NewSession(Config{
		Loader:    staticLoader{err: &knowledge.LoadError{Source: "kb.json", Err: errors.New("404")}},
		Submitter: &fakeSubmitter{},
		Clock:     newFakeClock(),
	})
	err := s.Start(context.Background())
	if !knowledge.IsLoadError(err) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if !s.Failed() {
		t.Error("expected failed session")
	}

	msgs, err := s.Dispatch(context.Background(), Action{Kind: ActReportProblem})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	want := []string{TextRestart}
	if diff := cmp.Diff(want, texts(msgs)); diff != "" {
		t.Errorf("replies (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{TextLoadFailed, TextRestart}, texts(s.Messages(0))); diff != "" {
		t.Errorf("log (-want +got):\n%s", diff)
	}
}

func TestSession_TicketFlow(t *testing.T) {
	sub := &fakeSubmitter{
		admins: []protocol.Admin{{Username: "jdoe", FullName: "John Doe"}},
		result: submit.Result{
			TicketID: "TKT-3",
			Files: []submit.FileOutcome{
				{Filename: "a.png"}, {Filename: "b.pdf", Err: errors.New("presign")}, {Filename: "c.txt"},
			},
		},
	}
	s := newTestSession(t, sub)

	dispatch(t, s, "report_problem", "category:red_network", "subcategory:no_internet", "escalate")
	if s.State().Current != DescribingIssue {
		t.Fatalf("expected DESCRIBING_ISSUE, got %s", s.State().Current)
	}

	ctx := context.Background()
	if _, err := s.Attach(ctx, attachment.FromBytes("a.png", "", []byte("a")), attachment.FromBytes("b.pdf", "", []byte("b"))); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := s.AttachClipboard(ctx, attachment.ClipboardItem{MimeType: "image/png", Data: []byte("png")}); err != nil {
		t.Fatalf("paste: %v", err)
	}
	list, err := s.Detach(ctx, 2)
	if err != nil || len(list) != 2 {
		t.Fatalf("detach: %v, %d", err, len(list))
	}
	if _, err := s.Attach(ctx, attachment.FromBytes("c.txt", "", []byte("c"))); err != nil {
		t.Fatalf("attach: %v", err)
	}

	msgs, err := s.Dispatch(ctx, Text{Body: "No connection since this morning"})
	if err != nil {
		t.Fatalf("dispatch text: %v", err)
	}
	if msgs[0].Sender != protocol.SenderUser || msgs[0].Text != "No connection since this morning" {
		t.Errorf("expected user message first, got %+v", msgs[0])
	}
	last := msgs[len(msgs)-1]
	if diff := cmp.Diff([]string{"set_preference:jdoe", "set_preference:none"}, actions(last.Buttons)); diff != "" {
		t.Errorf("admin buttons (-want +got):\n%s", diff)
	}

	msgs = dispatch(t, s, "set_preference:none")
	if diff := cmp.Diff([]string{
		"✅ **Ticket #TKT-3 created!**\nFiles uploaded: 2\n⚠️ 1 file(s) failed",
		textMainMenu,
	}, texts(msgs)); diff != "" {
		t.Errorf("replies (-want +got):\n%s", diff)
	}

	if len(sub.requests) != 1 {
		t.Fatalf("expected one submission, got %d", len(sub.requests))
	}
	req := sub.requests[0]
	if req.PreferredAdmin != "" || req.User.Username != "ana" {
		t.Errorf("unexpected request %+v", req)
	}
	var names []string
	for _, f := range req.Files {
		names = append(names, f.Name)
	}
	if diff := cmp.Diff([]string{"a.png", "b.pdf", "c.txt"}, names); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
	if req.Context.ProblemDescription != "No connection since this morning" || req.Context.SubcategoryKey != "no_internet" {
		t.Errorf("unexpected context %+v", req.Context)
	}

	st := s.State()
	if st.Current != SelectingAction || len(st.Context.AttachedFiles) != 0 {
		t.Errorf("expected fresh menu state, got %+v", st)
	}
}

func TestSession_AdminLookupFailureFallsBackToAuto(t *testing.T) {
	sub := &fakeSubmitter{
		adminsErr: errors.New("timeout"),
		result:    submit.Result{TicketID: "9", AssignedAdmin: "maria"},
	}
	s := newTestSession(t, sub)
	dispatch(t, s, "report_problem", "category:red_network", "subcategory:vpn", "escalate")

	msgs, _ := s.Dispatch(context.Background(), Text{Body: "vpn drops"})
	if diff := cmp.Diff([]string{
		"vpn drops",
		textAdminsFallback,
		"✅ **Ticket #9 created!**\nAssigned to: **maria**\nFiles uploaded: 0",
		textMainMenu,
	}, texts(msgs)); diff != "" {
		t.Errorf("replies (-want +got):\n%s", diff)
	}
	if len(sub.requests) != 1 || sub.requests[0].PreferredAdmin != "" {
		t.Errorf("expected one auto-assigned submission, got %+v", sub.requests)
	}
}

func TestSession_SubmissionFailure(t *testing.T) {
	sub := &fakeSubmitter{submitErr: &submit.SubmissionError{Err: errors.New("500 Internal Server Error")}}
	s := newTestSession(t, sub)
	dispatch(t, s, "report_problem", "category:red_network", "subcategory:vpn", "escalate")
	s.Dispatch(context.Background(), Text{Body: "help"})

	msgs := dispatch(t, s, "set_preference:jdoe")
	if diff := cmp.Diff([]string{"❌ Error creating ticket: 500 Internal Server Error", textMainMenu}, texts(msgs)); diff != "" {
		t.Errorf("replies (-want +got):\n%s", diff)
	}
}

func TestSession_AttachmentsOnlyWhileDescribing(t *testing.T) {
	s := newTestSession(t, &fakeSubmitter{})
	ctx := context.Background()
	f := attachment.FromBytes("a.png", "", []byte("a"))

	if _, err := s.Attach(ctx, f); !errors.Is(err, ErrAttachmentsClosed) {
		t.Errorf("expected ErrAttachmentsClosed, got %v", err)
	}
	if _, err := s.AttachClipboard(ctx, attachment.ClipboardItem{MimeType: "image/png", Data: []byte("x")}); !errors.Is(err, ErrAttachmentsClosed) {
		t.Errorf("expected ErrAttachmentsClosed, got %v", err)
	}
	if _, err := s.Detach(ctx, 0); !errors.Is(err, ErrAttachmentsClosed) {
		t.Errorf("expected ErrAttachmentsClosed, got %v", err)
	}

	dispatch(t, s, "report_problem", "category:red_network", "subcategory:no_internet", "escalate")
	if _, err := s.Attach(ctx, f); err != nil {
		t.Fatalf("attach: %v", err)
	}
	dispatch(t, s, "main_menu")
	if len(s.Attachments()) != 0 {
		t.Errorf("expected attachments cleared by main_menu, got %d", len(s.Attachments()))
	}
}

func TestSession_StaleScheduledEventDropped(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, &fakeSubmitter{}, func(c *Config) {
		c.Clock = clock
		c.Delays = Delays{AfterSolved: 2 * time.Second}
	})

	dispatch(t, s, "report_problem", "category:red_network", "subcategory:no_internet", "solved")
	if s.State().Current == SelectingAction {
		t.Fatal("menu must wait for the delay")
	}

	dispatch(t, s, "main_menu", "report_problem")
	if n := clock.Fire(); n != 1 {
		t.Fatalf("expected one pending timer, fired %d", n)
	}
	if s.State().Current != SelectingCategory {
		t.Errorf("stale menu must not override newer step, got %s", s.State().Current)
	}
}

func TestSession_NoticeKeepsPendingEvent(t *testing.T) {
	clock := newFakeClock()
	sub := &fakeSubmitter{}
	s := newTestSession(t, sub, func(c *Config) {
		c.Clock = clock
		c.Delays = Delays{AfterSolved: 2 * time.Second}
	})

	dispatch(t, s, "report_problem", "category:red_network", "subcategory:no_internet", "solved")
	msgs := dispatch(t, s, "solved")
	if diff := cmp.Diff([]string{textUseButtons}, texts(msgs)); diff != "" {
		t.Errorf("replies (-want +got):\n%s", diff)
	}
	s.Dispatch(context.Background(), Text{Body: "thanks"})

	clock.Fire()
	if s.State().Current != SelectingAction {
		t.Errorf("expected menu after delay, got %s", s.State().Current)
	}
	if len(sub.solved) != 1 {
		t.Errorf("expected solved recorded once, got %d", len(sub.solved))
	}
}

func TestSession_Pacing(t *testing.T) {
	clock := newFakeClock()
	var typing int
	s := newTestSession(t, &fakeSubmitter{}, func(c *Config) {
		c.Clock = clock
		c.Delays = Delays{Thinking: 500 * time.Millisecond, Notice: 800 * time.Millisecond}
		c.OnTyping = func() { typing++ }
	})

	dispatch(t, s, "report_problem")
	s.Dispatch(context.Background(), Text{Body: "hello?"})

	if diff := cmp.Diff([]time.Duration{500 * time.Millisecond, 800 * time.Millisecond}, clock.sleeps); diff != "" {
		t.Errorf("sleeps (-want +got):\n%s", diff)
	}
	if typing != 2 {
		t.Errorf("expected 2 typing signals, got %d", typing)
	}
}

func TestSession_ObserversAndRecorder(t *testing.T) {
	rec := &memRecorder{}
	var seen []string
	s := newTestSession(t, &fakeSubmitter{}, func(c *Config) {
		c.Recorder = rec
		c.OnMessage = func(m protocol.Message) { seen = append(seen, m.Text) }
	})

	dispatch(t, s, "consult_policies")
	s.Dispatch(context.Background(), Text{Body: "where is the vpn policy"})

	if diff := cmp.Diff(texts(s.Messages(0)), seen); diff != "" {
		t.Errorf("observer must see the log in order (-want +got):\n%s", diff)
	}
	if len(rec.entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(rec.entries))
	}
	e := rec.entries[0]
	if e.ActionType != protocol.LogAction || e.ActionValue != "consult_policies" || e.BotResponse != textPolicies {
		t.Errorf("unexpected entry %+v", e)
	}
	e = rec.entries[1]
	if e.ActionType != protocol.LogText || e.BotResponse != textUseButtons || e.Username != "ana" || e.SessionID != "s-1" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestSession_MessagesAfter(t *testing.T) {
	s := newTestSession(t, &fakeSubmitter{})
	dispatch(t, s, "report_problem")
	if got := s.Messages(2); len(got) != 1 || !strings.Contains(got[0].Text, "What kind of problem") {
		t.Errorf("unexpected tail %v", texts(got))
	}
	if got := s.Messages(100); len(got) != 0 {
		t.Errorf("expected empty tail, got %d", len(got))
	}
}

func TestSession_CloseStopsTimers(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, &fakeSubmitter{}, func(c *Config) {
		c.Clock = clock
		c.Delays = Delays{AfterSolved: time.Second}
	})
	dispatch(t, s, "report_problem", "category:red_network", "subcategory:no_internet", "solved")
	s.Close()

	if n := clock.Fire(); n != 0 {
		t.Errorf("expected timers stopped, fired %d", n)
	}
	if _, err := s.Dispatch(context.Background(), Action{Kind: ActMainMenu}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

// gatedSubmitter blocks Submit until release is closed.
type gatedSubmitter struct {
	fakeSubmitter
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSubmitter) Submit(ctx context.Context, req submit.Request) (submit.Result, error) {
	close(g.entered)
	<-g.release
	return g.fakeSubmitter.Submit(ctx, req)
}

func TestSession_ReadersDoNotWaitForSubmission(t *testing.T) {
	gate := &gatedSubmitter{
		fakeSubmitter: fakeSubmitter{result: submit.Result{TicketID: "7"}},
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	s := newTestSession(t, nil, func(c *Config) { c.Submitter = gate })
	dispatch(t, s, "report_problem", "category:red_network", "subcategory:vpn", "escalate")
	s.Dispatch(context.Background(), Text{Body: "vpn drops"})

	submitted := make(chan []protocol.Message)
	go func() {
		msgs, _ := s.Dispatch(context.Background(), MustParseAction("set_preference:none"))
		submitted <- msgs
	}()
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("submission never started")
	}

	read := make(chan StateName)
	go func() {
		s.Messages(0)
		s.LastActive()
		read <- s.State().Current
	}()
	select {
	case st := <-read:
		if st != SelectingPreference {
			t.Errorf("expected SELECTING_PREFERENCE while uploading, got %s", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("readers blocked behind the submission")
	}

	close(gate.release)
	select {
	case msgs := <-submitted:
		if !strings.Contains(strings.Join(texts(msgs), "\n"), "Ticket #7") {
			t.Errorf("unexpected replies %v", texts(msgs))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not finish")
	}
}

func TestSession_CloseDuringSubmission(t *testing.T) {
	gate := &gatedSubmitter{
		fakeSubmitter: fakeSubmitter{result: submit.Result{TicketID: "8"}},
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	s := newTestSession(t, nil, func(c *Config) { c.Submitter = gate })
	dispatch(t, s, "report_problem", "category:red_network", "subcategory:vpn", "escalate")
	s.Dispatch(context.Background(), Text{Body: "vpn drops"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Dispatch(context.Background(), MustParseAction("set_preference:none"))
	}()
	<-gate.entered
	before := len(s.Messages(0))

	closed := make(chan struct{})
	go func() { s.Close(); close(closed) }()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind the submission")
	}

	close(gate.release)
	<-done
	if got := len(s.Messages(0)); got != before {
		t.Errorf("closed session must not apply the result, log grew from %d to %d", before, got)
	}
}

// cutClock ends every pacing delay early with the context's error.
type cutClock struct{ *fakeClock }

func (c cutClock) Sleep(ctx context.Context, d time.Duration) error {
	c.fakeClock.Sleep(ctx, d)
	return context.Canceled
}

func TestSession_InterruptedPacingStillApplies(t *testing.T) {
	clock := cutClock{newFakeClock()}
	s := newTestSession(t, &fakeSubmitter{}, func(c *Config) {
		c.Clock = clock
		c.Delays = Delays{Thinking: time.Second}
	})

	dispatch(t, s, "report_problem")
	if len(clock.sleeps) != 1 {
		t.Fatalf("expected one pacing delay, got %v", clock.sleeps)
	}
	if s.State().Current != SelectingCategory {
		t.Errorf("expected SELECTING_CATEGORY, got %s", s.State().Current)
	}
}
