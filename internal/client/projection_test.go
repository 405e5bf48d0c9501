package client

import (
	"encoding/json"
	"testing"

	"github.com/kiliankoe/storyduel/internal/game"
)

func apply(t *testing.T, p *Projection, event string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	if err := p.Apply(event, b); err != nil {
		t.Fatalf("apply %s: %v", event, err)
	}
}

var roster = []game.Player{{ID: "me", Name: "Alice"}, {ID: "you", Name: "Bob"}}

// writingProjection is in the writing phase of a two-player room as "me".
func writingProjection(t *testing.T) *Projection {
	t.Helper()
	p := NewProjection()
	apply(t, p, game.EventRoomJoined, game.RoomJoinedPayload{RoomCode: "ABCDE", PlayerID: "me", Players: roster[:1], GamePhase: game.PhaseLobby})
	apply(t, p, game.EventPlayerJoined, game.PlayersPayload{Players: roster})
	apply(t, p, game.EventGameStarted, game.GameStartedPayload{Prompt: "Quicksand.", TimeLimit: 60, TimeRemaining: 60})
	return p
}

func TestProjectionMirrorsRound(t *testing.T) {
	p := writingProjection(t)
	v := p.View()
	if v.RoomCode != "ABCDE" || v.PlayerID != "me" || v.Phase != game.PhaseWriting || len(v.Players) != 2 {
		t.Fatalf("unexpected view after start: %+v", v)
	}

	apply(t, p, game.EventTimeUpdate, game.TimeUpdatePayload{TimeRemaining: 42})
	if p.View().TimeRemaining != 42 {
		t.Fatal("timeUpdate should replace remaining seconds")
	}

	apply(t, p, game.EventStorySubmitted, game.StorySubmittedPayload{PlayerID: "you", TotalSubmitted: 1, TotalPlayers: 2})
	apply(t, p, game.EventStorySubmitted, game.StorySubmittedPayload{PlayerID: "me", TotalSubmitted: 2, TotalPlayers: 2})
	apply(t, p, game.EventAllStoriesSubmitted, game.EmptyPayload{})
	apply(t, p, game.EventJudgingStarted, game.EmptyPayload{})
	v = p.View()
	if v.Phase != game.PhaseJudging || !v.Judging || v.TotalSubmitted != 2 {
		t.Fatalf("unexpected view while judging: %+v", v)
	}

	scored := []game.Player{{ID: "me", Name: "Alice", Score: 1}, {ID: "you", Name: "Bob"}}
	apply(t, p, game.EventRoundResults, game.RoundResultsPayload{
		Results: []game.RoundResult{{PlayerID: "me", Survived: true}, {PlayerID: "you"}},
		Players: scored,
	})
	v = p.View()
	if v.Phase != game.PhaseResults || v.Judging || len(v.Results) != 2 || v.Players[0].Score != 1 {
		t.Fatalf("unexpected view after results: %+v", v)
	}

	apply(t, p, game.EventNewRound, game.NewRoundPayload{GamePhase: game.PhaseLobby, Players: scored})
	v = p.View()
	if v.Phase != game.PhaseLobby || v.Prompt != "" || len(v.Results) != 0 || v.PendingSubmit || v.SubmitConfirmed {
		t.Fatalf("new round should clear the round: %+v", v)
	}
}

func TestOptimisticSubmitIsConfirmed(t *testing.T) {
	p := writingProjection(t)
	if p.HasSubmitted() {
		t.Fatal("nothing submitted yet")
	}
	if !p.BeginSubmit() {
		t.Fatal("first submit should be allowed")
	}
	if !p.HasSubmitted() || !p.View().PendingSubmit {
		t.Fatal("prediction should be recorded")
	}
	if p.BeginSubmit() {
		t.Fatal("second submit must be suppressed while pending")
	}

	// Another player's acknowledgement does not confirm ours.
	apply(t, p, game.EventStorySubmitted, game.StorySubmittedPayload{PlayerID: "you", TotalSubmitted: 1, TotalPlayers: 2})
	if v := p.View(); !v.PendingSubmit || v.SubmitConfirmed {
		t.Fatalf("prediction should still be pending: %+v", v)
	}

	apply(t, p, game.EventStorySubmitted, game.StorySubmittedPayload{PlayerID: "me", TotalSubmitted: 2, TotalPlayers: 2})
	v := p.View()
	if v.PendingSubmit || !v.SubmitConfirmed || !p.HasSubmitted() {
		t.Fatalf("server ack should confirm the prediction: %+v", v)
	}

	// Errors after confirmation do not undo it.
	apply(t, p, game.EventError, game.ErrorPayload{Message: "judging already in progress", Code: "judging_in_progress"})
	if !p.HasSubmitted() {
		t.Fatal("confirmed submission must survive unrelated errors")
	}
	if p.BeginSubmit() {
		t.Fatal("confirmed submission must block resubmits")
	}
}

func TestRejectedSubmitWithdrawsPrediction(t *testing.T) {
	p := writingProjection(t)
	if !p.BeginSubmit() {
		t.Fatal("submit should be allowed")
	}
	apply(t, p, game.EventError, game.ErrorPayload{Message: "story is empty", Code: "invalid_input"})
	v := p.View()
	if v.PendingSubmit || p.HasSubmitted() {
		t.Fatalf("rejection should withdraw the prediction: %+v", v)
	}
	if v.LastError == nil || v.LastError.Code != "invalid_input" {
		t.Fatalf("last error should be kept: %+v", v.LastError)
	}
	if !p.BeginSubmit() {
		t.Fatal("player should be able to retry")
	}
}

func TestUnrelatedErrorKeepsPrediction(t *testing.T) {
	p := writingProjection(t)
	if !p.BeginSubmit() {
		t.Fatal("submit should be allowed")
	}
	apply(t, p, game.EventError, game.ErrorPayload{Message: "judging already in progress", Code: "judging_in_progress"})
	v := p.View()
	if !v.PendingSubmit || !p.HasSubmitted() {
		t.Fatalf("unrelated error should not withdraw the prediction: %+v", v)
	}
	if p.BeginSubmit() {
		t.Fatal("pending submission must still block resubmits")
	}
	if v.LastError == nil || v.LastError.Code != "judging_in_progress" {
		t.Fatalf("last error should be kept: %+v", v.LastError)
	}
}

func TestLateAckStillConfirms(t *testing.T) {
	p := writingProjection(t)
	p.BeginSubmit()
	// An unrelated rejection arrives first and withdraws the prediction...
	apply(t, p, game.EventError, game.ErrorPayload{Message: "too many actions", Code: "rate_limited"})
	// ...then the server's acknowledgement is authoritative.
	apply(t, p, game.EventStorySubmitted, game.StorySubmittedPayload{PlayerID: "me", TotalSubmitted: 1, TotalPlayers: 2})
	if !p.View().SubmitConfirmed {
		t.Fatal("server acknowledgement must win over the local prediction")
	}
}

func TestSubmitBlockedOutsideWriting(t *testing.T) {
	p := NewProjection()
	if p.BeginSubmit() {
		t.Fatal("no room joined yet")
	}
	p = writingProjection(t)
	apply(t, p, game.EventTimeUp, game.TimeUpPayload{GamePhase: game.PhaseJudging})
	if p.BeginSubmit() {
		t.Fatal("submit after time is up must be suppressed")
	}
	if p.View().TimeRemaining != 0 {
		t.Fatal("timeUp should zero the clock")
	}
}

func TestAbandonedRoundResetsPrediction(t *testing.T) {
	p := writingProjection(t)
	p.BeginSubmit()
	apply(t, p, game.EventPlayerLeft, game.PlayerLeftPayload{Players: roster[:1], GamePhase: game.PhaseLobby, Message: "Bob left"})
	v := p.View()
	if v.Phase != game.PhaseLobby || v.PendingSubmit || v.TotalPlayers != 1 || v.Prompt != "" {
		t.Fatalf("abandonment should reset the round: %+v", v)
	}
}

func TestApplyRejectsMalformedPayload(t *testing.T) {
	p := NewProjection()
	if err := p.Apply(game.EventTimeUpdate, json.RawMessage(`{"timeRemaining":"soon"}`)); err == nil {
		t.Fatal("expected decode error")
	}
	if err := p.Apply("somethingNew", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("unknown events should be ignored: %v", err)
	}
}
