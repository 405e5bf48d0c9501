package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type sentEvent struct {
	code string
	ev   Event
}

// recordingBroadcaster keeps every event a room produced.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (b *recordingBroadcaster) Broadcast(code string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{code: code, ev: ev})
}

func (b *recordingBroadcaster) named(name string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, e := range b.events {
		if e.ev.Name == name {
			out = append(out, e.ev)
		}
	}
	return out
}

func (b *recordingBroadcaster) waitFor(t *testing.T, name string, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if evs := b.named(name); len(evs) >= n {
			return evs
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d %s events, got %d", n, name, len(b.named(name)))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (b *recordingBroadcaster) never(t *testing.T, name string, wait time.Duration) {
	t.Helper()
	time.Sleep(wait)
	if evs := b.named(name); len(evs) > 0 {
		t.Fatalf("expected no %s events, got %d", name, len(evs))
	}
}

// testOracle blocks until released and lets every story survive.
type testOracle struct {
	release chan struct{}
	err     error
	calls   atomic.Int32

	mu      sync.Mutex
	stories []Story
}

func newTestOracle() *testOracle {
	return &testOracle{release: make(chan struct{})}
}

func (o *testOracle) Judge(ctx context.Context, prompt string, stories []Story) ([]Verdict, error) {
	o.calls.Add(1)
	o.mu.Lock()
	o.stories = stories
	o.mu.Unlock()
	select {
	case <-o.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if o.err != nil {
		return nil, o.err
	}
	out := make([]Verdict, 0, len(stories))
	for _, s := range stories {
		out = append(out, Verdict{PlayerID: s.PlayerID, Survived: true, Reasoning: "clever"})
	}
	return out, nil
}

func (o *testOracle) judged() []Story {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stories
}

type fixedPrompts string

func (p fixedPrompts) Random() string { return string(p) }

type testEnv struct {
	rm     *RoomManager
	events *recordingBroadcaster
	oracle *testOracle
	clock  *clockwork.FakeClock
}

func newTestEnv(t *testing.T, autoJudge bool) *testEnv {
	t.Helper()
	env := &testEnv{
		events: &recordingBroadcaster{},
		oracle: newTestOracle(),
		clock:  clockwork.NewFakeClock(),
	}
	env.rm = NewRoomManager(Options{
		Oracle:    env.oracle,
		Prompts:   fixedPrompts("A shark tornado approaches."),
		Clock:     env.clock,
		AutoJudge: autoJudge,
	})
	env.rm.SetBroadcaster(env.events)
	t.Cleanup(env.rm.Close)
	return env
}

// twoPlayerRoom returns a lobby with players p1 (Alice) and p2 (Bob).
func (env *testEnv) twoPlayerRoom(t *testing.T) *Room {
	t.Helper()
	r := env.rm.Create(true)
	if err := r.Join("p1", "Alice"); err != nil {
		t.Fatalf("p1 failed to join: %v", err)
	}
	if err := r.Join("p2", "Bob"); err != nil {
		t.Fatalf("p2 failed to join: %v", err)
	}
	return r
}

// runClock advances the fake clock one second at a time, waiting for the
// room to observe each tick.
func (env *testEnv) runClock(t *testing.T, seconds int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	base := len(env.events.named(EventTimeUpdate))
	for i := 1; i <= seconds; i++ {
		if err := env.clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("no countdown ticker registered: %v", err)
		}
		env.clock.Advance(time.Second)
		if i < seconds {
			env.events.waitFor(t, EventTimeUpdate, base+i)
		}
	}
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func snapshot(t *testing.T, r *Room) State {
	t.Helper()
	st, err := r.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	return st
}
