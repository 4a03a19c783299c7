package drama_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/butai/internal/butai/drama"
	"github.com/bdobrica/butai/internal/butai/generation"
	"github.com/bdobrica/butai/internal/butai/memory"
	"github.com/bdobrica/butai/internal/butai/nlp"
	"github.com/bdobrica/butai/internal/butai/scenario"
	"github.com/bdobrica/butai/internal/butai/snapshot"
)

const playYAML = `
scenarios:
  - id: welcome
    cast:
      - character: 陌生人
        triggers:
          DESCRIPTIONTEXT: 你是海达。
          WELCOMEWORD: 你好，我是海达
          DEFAULT: "GEN:笑着"
          solid: "SOLID:hi\nSILENCE"
          go: "TRANS:chapter2\nSOLID:never"
          broken: "HOLD:bogus\nSOLID:after"
          slow: "HOLD:10\nSOLID:late"
  - id: chapter2
    cast:
      - character: 陌生人
        triggers:
          DESCRIPTIONTEXT: 第二章。
          WELCOMEWORD: 欢迎来到第二章
          DEFAULT: "SOLID:chapter two"
  - id: bye
    cast:
      - character: 陌生人
        triggers:
          DESCRIPTIONTEXT: 再见。
          DEFAULT: "SOLID:should not be said"
  - id: heddacomeagain
    cast:
      - character: 陌生人
        triggers:
          DESCRIPTIONTEXT: 又来了。
          DEFAULT: "SOLID:should not be said"
`

const (
	user     = "@alice:example.com"
	userRoom = "!alice:example.com"
	director = "@director:example.com"
	dirRoom  = "!director:example.com"
)

func mustTable(t *testing.T, doc string) *scenario.Table {
	t.Helper()
	table, err := scenario.ParseYAML([]byte(doc))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	return table
}

type fakeSource struct {
	mu        sync.Mutex
	table     *scenario.Table
	directors []string
	facts     []string
	relations map[string]string
	focus     []string
}

var _ drama.Source = (*fakeSource)(nil)

func (s *fakeSource) Scenarios() (*scenario.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table, nil
}
func (s *fakeSource) Directors() ([]string, error) { return s.directors, nil }
func (s *fakeSource) SaveFocus(c []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focus = c
	return nil
}
func (s *fakeSource) SelfMemory() ([]string, error) { return s.facts, nil }
func (s *fakeSource) AppendSelfMemory(fact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, fact)
	return nil
}
func (s *fakeSource) Relations() (map[string]string, error) { return s.relations, nil }

// fakeNLU maps an utterance to an intent and a set of "地点" entities.
type fakeNLU struct {
	mu      sync.Mutex
	intents map[string]string
	places  map[string][]string
	schema  []string
	// err fails every Understand call when set.
	err error
}

var _ drama.Understander = (*fakeNLU)(nil)

func (f *fakeNLU) Understand(_ context.Context, text, _ string) (nlp.Understanding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nlp.Understanding{}, f.err
	}
	u := nlp.Understanding{Intent: f.intents[text]}
	if places := f.places[text]; len(places) > 0 {
		u.Categories = []nlp.CategoryTags{{Category: "地点", Entities: places}}
		u.Tags = memory.NewTagSet(places...)
		u.Topics = memory.NewTagSet("地点")
	}
	return u, nil
}
func (f *fakeNLU) Tag(context.Context, string) (memory.TagSet, memory.TagSet, error) {
	return nil, nil, nil
}
func (f *fakeNLU) Schema() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.schema...)
}
func (f *fakeNLU) SetSchema(s []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schema = s
}

// countingCompleter answers every call with reply and records the prompts.
type countingCompleter struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	reply   string
}

func (c *countingCompleter) Complete(_ context.Context, prompt string, _ generation.Settings) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.prompts = append(c.prompts, prompt)
	return c.reply, nil
}

func (c *countingCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type sent struct{ room, text string }

type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

var _ drama.Messenger = (*recorder)(nil)

func (r *recorder) SendText(_ context.Context, room, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{room, text})
	return nil
}

// drain returns and clears what was sent.
func (r *recorder) drain() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	return out
}

// waitFor polls until room has been sent a text containing part.
func (r *recorder) waitFor(t *testing.T, room, part string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, m := range r.msgs {
			if m.room == room && strings.Contains(m.text, part) {
				r.mu.Unlock()
				return
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no message containing %q reached %s", part, room)
}

type memSnapshots struct {
	mu   sync.Mutex
	snap snapshot.Snapshot
}

func (m *memSnapshots) Save(_ context.Context, s snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = s
	return nil
}

func (m *memSnapshots) Load(context.Context) (snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Sessions == nil {
		return snapshot.Empty(), nil
	}
	return m.snap, nil
}

type harness struct {
	engine    *drama.Engine
	source    *fakeSource
	nlu       *fakeNLU
	completer *countingCompleter
	out       *recorder
	snaps     *memSnapshots
}

func newHarness(t *testing.T, cfg drama.Config) *harness {
	t.Helper()
	h := &harness{
		source: &fakeSource{
			table:     mustTable(t, playYAML),
			directors: []string{director},
			facts:     []string{"海达住在挪威。"},
			relations: map[string]string{"你": "你是海达。"},
		},
		nlu: &fakeNLU{
			intents: map[string]string{},
			places:  map[string][]string{},
			schema:  []string{"地点"},
		},
		completer: &countingCompleter{reply: "在剧院"},
		out:       &recorder{},
		snaps:     &memSnapshots{},
	}
	engine, err := drama.New(context.Background(), cfg, drama.Deps{
		Source:       h.source,
		Understander: h.nlu,
		Generator:    generation.New(h.completer, generation.Options{}),
		Messenger:    h.out,
		Snapshots:    h.snaps,
	})
	if err != nil {
		t.Fatalf("drama.New: %v", err)
	}
	h.engine = engine
	return h
}

func (h *harness) say(from, room, text string) []sent {
	h.engine.Process(context.Background(), drama.Inbound{From: from, Room: room, Text: text})
	return h.out.drain()
}

// join makes the first contact and discards the greeting.
func (h *harness) join(t *testing.T) {
	t.Helper()
	if got := h.say(user, userRoom, "hello"); len(got) == 0 {
		t.Fatal("expected a greeting for a new correspondent")
	}
}

func texts(msgs []sent) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.text
	}
	return out
}

func TestNewCorrespondentIsGreeted(t *testing.T) {
	h := newHarness(t, drama.Config{Disclaimer: "先声明哈"})

	got := h.say(user, userRoom, "hello")
	want := []string{"先声明哈", "你好，我是海达"}
	if strings.Join(texts(got), "|") != strings.Join(want, "|") {
		t.Fatalf("sent %q, want %q", texts(got), want)
	}
	for _, m := range got {
		if m.room != userRoom {
			t.Errorf("sent to %q, want %q", m.room, userRoom)
		}
	}
	sess, ok := h.engine.Session(user)
	if !ok {
		t.Fatal("session not created")
	}
	if sess.Scenario != "welcome" || sess.Character != "陌生人" {
		t.Errorf("session cast = %s/%s, want welcome/陌生人", sess.Scenario, sess.Character)
	}
	if h.completer.Calls() != 0 {
		t.Error("greeting must not call the generator")
	}
}

func TestLiteralThenSuppress(t *testing.T) {
	h := newHarness(t, drama.Config{})
	h.join(t)
	h.nlu.intents["say hi"] = "solid"

	got := h.say(user, userRoom, "say hi")
	if len(got) != 1 || got[0].text != "hi" {
		t.Fatalf("sent %q, want exactly [hi]", texts(got))
	}
	if h.completer.Calls() != 0 {
		t.Errorf("generator called %d times, want 0", h.completer.Calls())
	}
}

func TestTransitionStopsScript(t *testing.T) {
	h := newHarness(t, drama.Config{})
	h.join(t)
	h.nlu.intents["let's go"] = "go"

	got := h.say(user, userRoom, "let's go")
	if len(got) != 1 || got[0].text != "欢迎来到第二章" {
		t.Fatalf("sent %q, want only the chapter2 welcome", texts(got))
	}
	sess, _ := h.engine.Session(user)
	if sess.Scenario != "chapter2" {
		t.Errorf("scenario = %q, want chapter2", sess.Scenario)
	}
	if n := len(h.engine.Memory(user, "welcome")); n != 0 {
		t.Errorf("transition wrote %d memory entries, want 0", n)
	}

	// The next turn runs chapter2's rules.
	if got := h.say(user, userRoom, "anything"); len(got) != 1 || got[0].text != "chapter two" {
		t.Errorf("chapter2 turn sent %q", texts(got))
	}
}

func TestExhaustedGenerationDropsReply(t *testing.T) {
	h := newHarness(t, drama.Config{})
	h.join(t)
	h.completer.reply = ""

	got := h.say(user, userRoom, "海达在哪")
	if len(got) != 0 {
		t.Errorf("sent %q, want nothing", texts(got))
	}
	if h.completer.Calls() != generation.MaxAttempts {
		t.Errorf("completer called %d times, want %d", h.completer.Calls(), generation.MaxAttempts)
	}
	if n := len(h.engine.Memory(user, "welcome")); n != 0 {
		t.Errorf("memory has %d entries, want 0", n)
	}
}

func TestExhaustedGenerationSendsFallback(t *testing.T) {
	h := newHarness(t, drama.Config{Fallback: "好像出了点问题"})
	h.join(t)
	h.completer.reply = ""

	got := h.say(user, userRoom, "海达在哪")
	if len(got) != 1 || got[0].text != "好像出了点问题" {
		t.Errorf("sent %q, want the fallback phrase", texts(got))
	}
}

func TestGeneratedReplyIsRemembered(t *testing.T) {
	h := newHarness(t, drama.Config{})
	h.join(t)
	h.nlu.places["海达在哪"] = []string{"剧院"}

	got := h.say(user, userRoom, "海达在哪")
	if len(got) != 1 || got[0].text != "在剧院" {
		t.Fatalf("sent %q, want [在剧院]", texts(got))
	}

	entries := h.engine.Memory(user, "welcome")
	if len(entries) != 1 {
		t.Fatalf("memory has %d entries, want 1", len(entries))
	}
	if want := "陌生人说：“海达在哪”你说：“在剧院”"; entries[0].Text != want {
		t.Errorf("entry text = %q, want %q", entries[0].Text, want)
	}
	if !entries[0].Tags.Equal(memory.NewTagSet("剧院")) {
		t.Errorf("entry tags = %v", entries[0].Tags.Sorted())
	}

	prompt := h.completer.prompts[0]
	wantPrompt := "你是海达。你是海达。你说：“你好，我是海达”陌生人说：“海达在哪”你笑着说：“"
	if prompt != wantPrompt {
		t.Errorf("prompt =\n%q\nwant\n%q", prompt, wantPrompt)
	}
}

func TestUnderstandingFailureDropsTurn(t *testing.T) {
	h := newHarness(t, drama.Config{})
	h.join(t)
	h.nlu.mu.Lock()
	h.nlu.err = errors.New("nlu down")
	h.nlu.mu.Unlock()

	if got := h.say(user, userRoom, "在吗"); len(got) != 0 {
		t.Errorf("sent %q, want nothing", texts(got))
	}
	if n := h.completer.Calls(); n != 0 {
		t.Errorf("completer called %d times, want 0", n)
	}
	if entries := h.engine.Memory(user, "welcome"); len(entries) != 0 {
		t.Errorf("memory has %d entries, want 0", len(entries))
	}

	h.nlu.mu.Lock()
	h.nlu.err = nil
	h.nlu.mu.Unlock()
	if got := h.say(user, userRoom, "还在吗"); len(got) != 1 || got[0].text != "在剧院" {
		t.Errorf("after recovery sent %q, want [在剧院]", texts(got))
	}
}

func TestMalformedPauseIsSkipped(t *testing.T) {
	h := newHarness(t, drama.Config{})
	h.join(t)
	h.nlu.intents["x"] = "broken"

	if got := h.say(user, userRoom, "x"); len(got) != 1 || got[0].text != "after" {
		t.Errorf("sent %q, want [after]", texts(got))
	}
}

func TestPauseAbortsOnCancel(t *testing.T) {
	h := newHarness(t, drama.Config{})
	h.join(t)
	h.nlu.intents["slow"] = "slow"

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	h.engine.Process(ctx, drama.Inbound{From: user, Room: userRoom, Text: "slow"})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("pause ignored cancellation, took %v", elapsed)
	}
	if got := h.out.drain(); len(got) != 0 {
		t.Errorf("sent %q after cancellation", texts(got))
	}
}

func TestTerminalScenarioIsSilent(t *testing.T) {
	h := newHarness(t, drama.Config{})
	h.snaps.snap = snapshot.Empty()
	h.snaps.snap.Sessions[user] = snapshot.SessionRecord{ID: "s1", Character: "陌生人", Scenario: "bye", Room: userRoom}
	if err := h.engine.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if got := h.say(user, userRoom, "are you there"); len(got) != 0 {
		t.Errorf("sent %q in a terminal scenario", texts(got))
	}
}

func TestRestartScenario(t *testing.T) {
	h := newHarness(t, drama.Config{Restart: map[string]string{"heddacomeagain": "welcome"}})
	h.snaps.snap = snapshot.Empty()
	h.snaps.snap.Sessions[user] = snapshot.SessionRecord{ID: "s1", Character: "陌生人", Scenario: "heddacomeagain", Room: userRoom}
	if err := h.engine.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	h.nlu.intents["again"] = "solid"

	if got := h.say(user, userRoom, "again"); len(got) != 1 || got[0].text != "hi" {
		t.Errorf("sent %q, want welcome's rules to answer", texts(got))
	}
	if sess, _ := h.engine.Session(user); sess.Scenario != "welcome" {
		t.Errorf("scenario = %q, want welcome", sess.Scenario)
	}
}

type recordingCommands struct {
	mu    sync.Mutex
	calls []drama.Inbound
}

func (r *recordingCommands) HandleCommand(_ context.Context, msg drama.Inbound) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, msg)
	if msg.Text == "ding" {
		return "dong -- butai", true
	}
	return "", false
}

func TestCommandsOnlyForDirectors(t *testing.T) {
	h := newHarness(t, drama.Config{})
	cmds := &recordingCommands{}
	h.engine.SetCommands(cmds)
	h.join(t)
	h.nlu.intents["ding"] = "solid"

	if got := h.say(user, userRoom, "ding"); len(got) != 1 || got[0].text != "hi" {
		t.Errorf("non-director ding sent %q, want it played as an utterance", texts(got))
	}
	if len(cmds.calls) != 0 {
		t.Errorf("command handler saw a non-director message")
	}

	got := h.say(director, dirRoom, "ding")
	if len(got) != 1 || got[0].text != "dong -- butai" || got[0].room != dirRoom {
		t.Errorf("director ding sent %+v", got)
	}

	got = h.say(director, dirRoom, "what now")
	if len(got) != 1 || got[0].text != drama.UnknownCommandReply {
		t.Errorf("unknown director text sent %q", texts(got))
	}
}

func TestTakeoverMergesAndForwards(t *testing.T) {
	h := newHarness(t, drama.Config{})
	h.join(t)
	h.engine.TakeOver(director, dirRoom)

	h.say(user, userRoom, "first")
	got := h.say(user, userRoom, "second")
	if len(got) != 2 {
		t.Fatalf("forwarded %d messages, want 2", len(got))
	}
	for _, m := range got {
		if m.room != dirRoom {
			t.Errorf("forwarded to %q, want the director's room", m.room)
		}
	}
	if want := "你说：“你好，我是海达”陌生人说：“first，second”"; !strings.HasSuffix(got[1].text, want) {
		t.Errorf("dialogue = %q, want suffix %q", got[1].text, want)
	}
	if h.completer.Calls() != 0 {
		t.Error("generator must not run during takeover")
	}

	got = h.say(director, dirRoom, "我是导演")
	if len(got) != 2 || got[0].room != userRoom || got[0].text != "我是导演" {
		t.Fatalf("director line delivered as %+v", got)
	}

	if !h.engine.StopTakeOver() {
		t.Error("StopTakeOver reported no active takeover")
	}
	h.say(user, userRoom, "back to you")
	wantPrompt := "你说：“我是导演”陌生人说：“back to you”你笑着说：“"
	if last := h.completer.prompts[len(h.completer.prompts)-1]; !strings.HasSuffix(last, wantPrompt) {
		t.Errorf("prompt after takeover = %q, want suffix %q", last, wantPrompt)
	}
}

func TestTakeoverLineGoesThroughTalkerQueue(t *testing.T) {
	h := newHarness(t, drama.Config{})
	h.engine.Start(context.Background())
	submit := func(from, room, text string) {
		t.Helper()
		if err := h.engine.HandleMessage(drama.Inbound{From: from, Room: room, Text: text}); err != nil {
			t.Fatalf("HandleMessage(%q): %v", text, err)
		}
	}

	submit(user, userRoom, "hello")
	h.out.waitFor(t, userRoom, "你好，我是海达")
	h.engine.TakeOver(director, dirRoom)

	submit(user, userRoom, "有人吗")
	h.out.waitFor(t, dirRoom, "just said: 有人吗")
	submit(director, dirRoom, "我是导演")
	h.out.waitFor(t, dirRoom, "msg has been forward to")

	h.engine.StopTakeOver()
	submit(user, userRoom, "back to you")
	h.engine.Close()

	if len(h.completer.prompts) != 1 {
		t.Fatalf("completer called %d times, want 1", len(h.completer.prompts))
	}
	want := "你说：“我是导演”陌生人说：“back to you”你笑着说：“"
	if got := h.completer.prompts[0]; !strings.HasSuffix(got, want) {
		t.Errorf("prompt = %q, want suffix %q", got, want)
	}
}

func TestTurnsLeftFollowsRateLimit(t *testing.T) {
	h := newHarness(t, drama.Config{TurnLimit: 2, TurnWindow: time.Hour})
	h.join(t)
	h.nlu.intents["one"] = "solid"
	if got := h.engine.TurnsLeft(user); got != 2 {
		t.Fatalf("TurnsLeft after greeting = %d, want 2", got)
	}

	h.say(user, userRoom, "one")
	h.say(user, userRoom, "one")
	if got := h.engine.TurnsLeft(user); got != 0 {
		t.Errorf("TurnsLeft = %d, want 0", got)
	}
	if got := h.say(user, userRoom, "one"); len(got) != 0 {
		t.Errorf("turn over the limit sent %q", texts(got))
	}

	h.engine.Reset(user)
	if got := h.engine.TurnsLeft(user); got != 2 {
		t.Errorf("TurnsLeft after reset = %d, want 2", got)
	}
}

func TestRejectedReloadKeepsTable(t *testing.T) {
	h := newHarness(t, drama.Config{})
	live := h.engine.Table()

	recast := strings.Replace(playYAML, "  - id: chapter2\n    cast:\n", "  - id: chapter2\n    cast:\n      - character: 导游\n        triggers:\n          DESCRIPTIONTEXT: 导游。\n          DEFAULT: SILENCE\n", 1)
	h.source.mu.Lock()
	h.source.table = mustTable(t, recast)
	h.source.mu.Unlock()

	err := h.engine.ReloadScenarios()
	if !errors.Is(err, scenario.ErrCastChanged) {
		t.Fatalf("ReloadScenarios error = %v, want ErrCastChanged", err)
	}
	if h.engine.Table() != live {
		t.Error("live table was replaced despite the rejection")
	}

	h.source.mu.Lock()
	h.source.table = mustTable(t, playYAML)
	h.source.mu.Unlock()
	if err := h.engine.ReloadScenarios(); err != nil {
		t.Fatalf("same-cast reload: %v", err)
	}
	if h.engine.Table() == live {
		t.Error("same-cast reload did not swap the table")
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	h := newHarness(t, drama.Config{})
	h.join(t)
	h.nlu.places["海达在哪"] = []string{"剧院", "挪威"}
	h.say(user, userRoom, "海达在哪")

	ctx := context.Background()
	if err := h.engine.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	before, _ := h.engine.Session(user)

	h.engine.Reset(user)
	if _, ok := h.engine.Session(user); ok {
		t.Fatal("Reset kept the session")
	}
	if err := h.engine.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	after, ok := h.engine.Session(user)
	if !ok {
		t.Fatal("session not restored")
	}
	if after.Character != before.Character || after.Scenario != before.Scenario {
		t.Errorf("restored %s/%s, want %s/%s", after.Scenario, after.Character, before.Scenario, before.Character)
	}
	entries := h.engine.Memory(user, "welcome")
	if len(entries) != 1 || !entries[0].Tags.Equal(memory.NewTagSet("挪威", "剧院")) {
		t.Errorf("restored memory = %+v", entries)
	}
}

func TestAddSelfMemoryAndFocus(t *testing.T) {
	h := newHarness(t, drama.Config{})
	ctx := context.Background()

	if err := h.engine.AddSelfMemory(ctx, "海达喜欢手枪。"); err != nil {
		t.Fatalf("AddSelfMemory: %v", err)
	}
	if got := h.engine.Status().SelfMemory; got != 2 {
		t.Errorf("self memory size = %d, want 2", got)
	}
	if len(h.source.facts) != 2 {
		t.Errorf("fact not persisted: %v", h.source.facts)
	}

	if err := h.engine.AddFocus(ctx, "人物"); err != nil {
		t.Fatalf("AddFocus: %v", err)
	}
	if got := strings.Join(h.source.focus, ","); got != "地点,人物" {
		t.Errorf("saved focus = %q", got)
	}
	if got := strings.Join(h.nlu.Schema(), ","); got != "地点,人物" {
		t.Errorf("schema = %q", got)
	}
}

func TestReloadDirectorsRejectsEmpty(t *testing.T) {
	h := newHarness(t, drama.Config{})
	h.source.directors = nil
	if _, err := h.engine.ReloadDirectors(); !errors.Is(err, drama.ErrNoDirectors) {
		t.Fatalf("err = %v, want ErrNoDirectors", err)
	}
	if !h.engine.IsDirector(director) {
		t.Error("director list changed after a rejected reload")
	}
}

func TestHandleMessageQueuesPerCorrespondent(t *testing.T) {
	h := newHarness(t, drama.Config{})
	if err := h.engine.HandleMessage(drama.Inbound{From: user, Room: userRoom, Text: "hi"}); !errors.Is(err, drama.ErrNotRunning) {
		t.Fatalf("HandleMessage before Start = %v, want ErrNotRunning", err)
	}

	h.engine.Start(context.Background())
	h.nlu.intents["one"] = "solid"
	for _, text := range []string{"hello", "one", "one"} {
		if err := h.engine.HandleMessage(drama.Inbound{From: user, Room: userRoom, Text: text}); err != nil {
			t.Fatalf("HandleMessage: %v", err)
		}
	}
	h.engine.Close()

	want := []string{"你好，我是海达", "hi", "hi"}
	if got := texts(h.out.drain()); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("sent %q, want %q", got, want)
	}
}
