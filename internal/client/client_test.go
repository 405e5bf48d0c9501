package client

import (
	"context"
	"errors"
	"math/rand"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kiliankoe/storyduel/internal/game"
	"github.com/kiliankoe/storyduel/internal/gateway"
	"github.com/kiliankoe/storyduel/internal/judge"
	"github.com/kiliankoe/storyduel/internal/ws"
)

func startServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rm := game.NewRoomManager(game.Options{Oracle: judge.NewDice(rand.NewSource(3))})
	srv := ws.New(gateway.New(rm, nil), ws.DefaultConfig())
	r := gin.New()
	srv.Mount(r)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		rm.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialClient(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitEvent(t *testing.T, c *Client, typ string) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatalf("connection closed while waiting for %s: %v", typ, c.Err())
			}
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestClientPlaysARound(t *testing.T) {
	url := startServer(t)
	alice := dialClient(t, url)
	bob := dialClient(t, url)

	if err := alice.JoinRoom("Alice", "", false); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	waitEvent(t, alice, game.EventRoomJoined)
	code := alice.Projection().View().RoomCode
	if code == "" {
		t.Fatal("projection should know the room code")
	}

	if err := bob.JoinRoom("Bob", code, false); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	waitEvent(t, bob, game.EventRoomJoined)
	waitEvent(t, alice, game.EventPlayerJoined)

	if err := alice.StartGame("", 60); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitEvent(t, alice, game.EventGameStarted)
	waitEvent(t, bob, game.EventGameStarted)
	if v := bob.Projection().View(); v.Phase != game.PhaseWriting || v.Prompt == "" || v.TimeLimit != 60 {
		t.Fatalf("unexpected view: %+v", v)
	}

	if err := alice.SubmitStory("I run."); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := alice.SubmitStory("I run again."); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	waitEvent(t, alice, game.EventStorySubmitted)
	if v := alice.Projection().View(); !v.SubmitConfirmed || v.TotalSubmitted != 1 {
		t.Fatalf("submission should be confirmed: %+v", v)
	}

	if err := bob.SubmitStory("I hide."); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	waitEvent(t, bob, game.EventAllStoriesSubmitted)

	if err := bob.JudgeStories(); err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	waitEvent(t, alice, game.EventRoundResults)
	v := alice.Projection().View()
	if v.Phase != game.PhaseResults || len(v.Results) != 2 {
		t.Fatalf("unexpected results view: %+v", v)
	}
	for _, r := range v.Results {
		if r.Reasoning == "" {
			t.Fatalf("result without reasoning: %+v", r)
		}
	}

	if err := alice.NextRound(); err != nil {
		t.Fatalf("next round failed: %v", err)
	}
	waitEvent(t, bob, game.EventNewRound)
	if v := bob.Projection().View(); v.Phase != game.PhaseLobby || v.SubmitConfirmed {
		t.Fatalf("unexpected view after newRound: %+v", v)
	}
}

func TestClientSeesErrors(t *testing.T) {
	url := startServer(t)
	c := dialClient(t, url)
	if err := c.JoinRoom("Carol", "QQQQQ", false); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	waitEvent(t, c, game.EventError)
	v := c.Projection().View()
	if v.LastError == nil || v.LastError.Code != "room_not_found" {
		t.Fatalf("expected room_not_found, got %+v", v.LastError)
	}
}
