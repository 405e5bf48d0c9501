package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kiliankoe/storyduel/internal/game"
)

// View is a copy of everything a client knows about its room.
type View struct {
	RoomCode       string
	PlayerID       string
	IsPublic       bool
	Phase          game.Phase
	Players        []game.Player
	Prompt         string
	TimeLimit      int
	TimeRemaining  int
	TotalSubmitted int
	TotalPlayers   int
	Judging        bool
	Results        []game.RoundResult
	LastError      *game.ErrorPayload

	// PendingSubmit is a local prediction: the story was sent but the
	// server has not acknowledged it yet.
	PendingSubmit bool
	// SubmitConfirmed is set once the server acknowledged our story.
	SubmitConfirmed bool
}

// Projection mirrors room state from server events. It never decides game
// outcomes; the only local state is the pending-submit prediction.
type Projection struct {
	mu sync.RWMutex
	v  View
}

func NewProjection() *Projection {
	return &Projection{}
}

// Apply folds one server event into the mirror. Unknown events are ignored.
func (p *Projection) Apply(event string, data json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event {
	case game.EventRoomJoined:
		var m game.RoomJoinedPayload
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.v = View{
			RoomCode:      m.RoomCode,
			PlayerID:      m.PlayerID,
			IsPublic:      m.IsPublic,
			Phase:         m.GamePhase,
			Players:       m.Players,
			Prompt:        m.Prompt,
			TimeLimit:     m.TimeLimit,
			TimeRemaining: m.TimeRemaining,
			TotalPlayers:  len(m.Players),
		}
	case game.EventPlayerJoined:
		var m game.PlayersPayload
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.v.Players = m.Players
		p.v.TotalPlayers = len(m.Players)
	case game.EventGameStarted:
		var m game.GameStartedPayload
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.resetRound()
		p.v.Phase = game.PhaseWriting
		p.v.Prompt = m.Prompt
		p.v.TimeLimit = m.TimeLimit
		p.v.TimeRemaining = m.TimeRemaining
		p.v.TotalPlayers = len(p.v.Players)
	case game.EventTimeUpdate:
		var m game.TimeUpdatePayload
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.v.TimeRemaining = m.TimeRemaining
	case game.EventTimeUp:
		var m game.TimeUpPayload
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.v.TimeRemaining = 0
		p.v.Phase = m.GamePhase
		// A story still in flight when time ran out will be rejected.
		if p.v.PendingSubmit && !p.v.SubmitConfirmed {
			p.v.PendingSubmit = false
		}
	case game.EventStorySubmitted:
		var m game.StorySubmittedPayload
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		// Counts come from the server and only ever grow within a round.
		if m.TotalSubmitted > p.v.TotalSubmitted {
			p.v.TotalSubmitted = m.TotalSubmitted
		}
		p.v.TotalPlayers = m.TotalPlayers
		if m.PlayerID == p.v.PlayerID {
			p.v.SubmitConfirmed = true
			p.v.PendingSubmit = false
		}
	case game.EventAllStoriesSubmitted:
		p.v.Phase = game.PhaseJudging
	case game.EventJudgingStarted:
		p.v.Phase = game.PhaseJudging
		p.v.Judging = true
	case game.EventRoundResults:
		var m game.RoundResultsPayload
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.v.Phase = game.PhaseResults
		p.v.Judging = false
		p.v.Results = m.Results
		p.v.Players = m.Players
	case game.EventPlayerLeft:
		var m game.PlayerLeftPayload
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		abandoned := m.GamePhase == game.PhaseLobby && (p.v.Phase == game.PhaseWriting || p.v.Phase == game.PhaseJudging)
		p.v.Players = m.Players
		p.v.TotalPlayers = len(m.Players)
		if m.GamePhase != "" {
			p.v.Phase = m.GamePhase
		}
		if abandoned {
			p.resetRound()
		}
	case game.EventNewRound:
		var m game.NewRoundPayload
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.resetRound()
		p.v.Phase = m.GamePhase
		p.v.Players = m.Players
		p.v.TotalPlayers = len(m.Players)
	case game.EventError:
		var m game.ErrorPayload
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.v.LastError = &m
		// Withdraw an unconfirmed prediction only when the error can be a
		// rejection of the story; a later storySubmitted still wins.
		if p.v.PendingSubmit && !p.v.SubmitConfirmed && submitRejections[m.Code] {
			p.v.PendingSubmit = false
		}
	}
	return nil
}

// submitRejections are the error codes a submitStory action can produce.
var submitRejections = map[string]bool{
	"invalid_input": true,
	"time_up":       true,
	"invalid_phase": true,
	"not_in_room":   true,
	"rate_limited":  true,
}

// BeginSubmit records the optimistic "already submitted" prediction. It
// reports false when a story is already pending or confirmed, or when the
// room is not accepting stories.
func (p *Projection) BeginSubmit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.v.Phase != game.PhaseWriting || p.v.TimeRemaining <= 0 {
		return false
	}
	if p.v.PendingSubmit || p.v.SubmitConfirmed {
		return false
	}
	p.v.PendingSubmit = true
	return true
}

// CancelSubmit withdraws a prediction whose action never reached the server.
func (p *Projection) CancelSubmit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.v.SubmitConfirmed {
		p.v.PendingSubmit = false
	}
}

func (p *Projection) HasSubmitted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.v.PendingSubmit || p.v.SubmitConfirmed
}

func (p *Projection) View() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v := p.v
	v.Players = append([]game.Player(nil), p.v.Players...)
	v.Results = append([]game.RoundResult(nil), p.v.Results...)
	if p.v.LastError != nil {
		e := *p.v.LastError
		v.LastError = &e
	}
	return v
}

// resetRound must be called with p.mu held.
func (p *Projection) resetRound() {
	p.v.Prompt = ""
	p.v.TimeRemaining = 0
	p.v.TotalSubmitted = 0
	p.v.Judging = false
	p.v.Results = nil
	p.v.PendingSubmit = false
	p.v.SubmitConfirmed = false
}

func unmarshal(event string, data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", event, err)
	}
	return nil
}
