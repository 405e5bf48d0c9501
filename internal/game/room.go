package game

import (
    "context"
    "fmt"
    "strings"
    "sync"
    "time"
    "unicode/utf8"

    "github.com/jonboulle/clockwork"
    "github.com/kiliankoe/storyduel/internal/timer"
    "github.com/rs/zerolog/log"
)

const (
    forfeitReasoning = "No story was submitted before time ran out."
    noVerdictReason  = "The judge could not reach a verdict this round."
)

// Room is one game session. All of its state is owned by a single actor
// goroutine; every external trigger (player action, timer tick, timer expiry,
// judge result) is a closure run on that goroutine, one at a time.
type Room struct {
    Code      string
    IsPublic  bool
    CreatedAt time.Time

    opts        Options
    clock       clockwork.Clock
    broadcaster Broadcaster
    countdown   *timer.Countdown
    onEmpty     func(*Room)

    ops       chan func()
    done      chan struct{}
    closeOnce sync.Once
    ctx       context.Context
    cancel    context.CancelFunc

    // actor-owned state
    phase         Phase
    players       []*Player
    prompt        string
    timeLimit     int
    timeRemaining int
    submissions   map[string]string
    results       []RoundResult
    round         int
    judging       bool
    everJoined    bool
    lastActive    time.Time
}

func newRoom(code string, isPublic bool, opts Options, b Broadcaster, onEmpty func(*Room)) *Room {
    ctx, cancel := context.WithCancel(context.Background())
    now := opts.Clock.Now()
    r := &Room{
        Code:        code,
        IsPublic:    isPublic,
        CreatedAt:   now,
        opts:        opts,
        clock:       opts.Clock,
        broadcaster: b,
        countdown:   timer.New(opts.Clock),
        onEmpty:     onEmpty,
        ops:         make(chan func()),
        done:        make(chan struct{}),
        ctx:         ctx,
        cancel:      cancel,
        phase:       PhaseLobby,
        timeLimit:   opts.DefaultTimeLimit,
        submissions: make(map[string]string),
        lastActive:  now,
    }
    go r.run()
    return r
}

func (r *Room) run() {
    for {
        select {
        case <-r.done:
            r.countdown.Cancel()
            return
        default:
        }
        select {
        case <-r.done:
            r.countdown.Cancel()
            return
        case op := <-r.ops:
            r.exec(op)
        }
    }
}

func (r *Room) exec(op func()) {
    defer func() {
        if p := recover(); p != nil {
            log.Error().Str("code", r.Code).Interface("panic", p).Msg("room operation panicked")
            r.failRound(fmt.Sprintf("%v", p))
        }
    }()
    op()
    if r.everJoined && len(r.players) == 0 {
        r.Close()
        if r.onEmpty != nil {
            r.onEmpty(r)
        }
    }
}

// call runs fn on the actor and waits for its result.
func (r *Room) call(fn func() error) error {
    errCh := make(chan error, 1)
    op := func() {
        err := ErrInternal
        defer func() { errCh <- err }()
        err = fn()
    }
    select {
    case r.ops <- op:
    case <-r.done:
        return ErrRoomClosed
    }
    return <-errCh
}

// post schedules fn on the actor without waiting. It reports false when the
// room is already closed.
func (r *Room) post(fn func()) bool {
    select {
    case r.ops <- fn:
        return true
    case <-r.done:
        return false
    }
}

// Close stops the actor, the countdown and any judge call in flight. It is
// safe to call from the actor itself.
func (r *Room) Close() {
    r.closeOnce.Do(func() {
        close(r.done)
        r.cancel()
        r.countdown.Cancel()
    })
}

// Done is closed once the room has shut down.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) Join(playerID, name string) error {
    name = strings.TrimSpace(name)
    if name == "" {
        return ErrEmptyName
    }
    if utf8.RuneCountInString(name) > MaxNameLength {
        return ErrNameTooLong
    }
    return r.call(func() error {
        if r.player(playerID) != nil {
            return ErrAlreadyJoined
        }
        if len(r.players) >= MaxPlayers {
            return ErrRoomFull
        }
        p := &Player{ID: playerID, Name: name, JoinedAt: r.clock.Now().UTC()}
        r.players = append(r.players, p)
        r.everJoined = true
        r.lastActive = p.JoinedAt
        log.Info().Str("code", r.Code).Str("playerId", playerID).Int("players", len(r.players)).Msg("player joined")

        r.emit(Event{Name: EventRoomJoined, To: playerID, Payload: RoomJoinedPayload{
            RoomCode:      r.Code,
            PlayerID:      playerID,
            Players:       r.roster(),
            GamePhase:     r.phase,
            IsPublic:      r.IsPublic,
            Prompt:        r.prompt,
            TimeLimit:     r.timeLimit,
            TimeRemaining: r.timeRemaining,
        }})
        r.emit(Event{Name: EventPlayerJoined, Except: playerID, Payload: PlayersPayload{Players: r.roster()}})
        return nil
    })
}

// Leave removes a player. A round that drops below two players is abandoned.
func (r *Room) Leave(playerID string) error {
    return r.call(func() error {
        idx := -1
        for i, p := range r.players {
            if p.ID == playerID {
                idx = i
                break
            }
        }
        if idx < 0 {
            return ErrNotInRoom
        }
        name := r.players[idx].Name
        r.players = append(r.players[:idx], r.players[idx+1:]...)
        delete(r.submissions, playerID)
        r.lastActive = r.clock.Now()
        log.Info().Str("code", r.Code).Str("playerId", playerID).Int("players", len(r.players)).Msg("player left")

        payload := PlayerLeftPayload{GamePhase: r.phase}
        if (r.phase == PhaseWriting || r.phase == PhaseJudging) && len(r.players) < MaxPlayers {
            r.abandonRound()
            payload.GamePhase = r.phase
            payload.Message = fmt.Sprintf("%s left the game, the round was abandoned.", name)
        }
        payload.Players = r.roster()
        r.emit(Event{Name: EventPlayerLeft, Payload: payload})
        return nil
    })
}

func (r *Room) StartGame(playerID string, req StartRequest) error {
    custom := strings.TrimSpace(req.CustomPrompt)
    if utf8.RuneCountInString(custom) > MaxPromptLength {
        return ErrPromptTooLong
    }
    return r.call(func() error {
        if r.player(playerID) == nil {
            return ErrNotInRoom
        }
        if r.phase != PhaseLobby {
            return ErrInvalidPhase
        }
        if len(r.players) != MaxPlayers {
            return ErrNotEnoughPlayers
        }
        prompt := custom
        if prompt == "" && r.opts.Prompts != nil {
            prompt = r.opts.Prompts.Random()
        }

        r.round++
        r.prompt = prompt
        r.timeLimit = ClampTimeLimit(req.TimeLimit, r.opts.DefaultTimeLimit)
        r.timeRemaining = r.timeLimit
        r.submissions = make(map[string]string)
        r.results = nil
        r.judging = false
        r.setPhase(PhaseWriting)

        round := r.round
        r.countdown.Start(r.timeLimit,
            func(remaining int) { r.post(func() { r.onTick(round, remaining) }) },
            func() { r.post(func() { r.onExpire(round) }) },
        )

        r.emit(Event{Name: EventGameStarted, Payload: GameStartedPayload{
            Prompt:        r.prompt,
            TimeLimit:     r.timeLimit,
            TimeRemaining: r.timeRemaining,
        }})
        return nil
    })
}

// Submit records a player's story. A second submission in the same round is
// ignored; the sender is re-acknowledged with the current count.
func (r *Room) Submit(playerID, story string) error {
    story = strings.TrimSpace(story)
    return r.call(func() error {
        if r.player(playerID) == nil {
            return ErrNotInRoom
        }
        if r.phase != PhaseWriting {
            if r.phase == PhaseJudging && r.timeRemaining <= 0 {
                return ErrTimeUp
            }
            return ErrInvalidPhase
        }
        if r.timeRemaining <= 0 {
            return ErrTimeUp
        }
        if _, ok := r.submissions[playerID]; ok {
            r.emit(Event{Name: EventStorySubmitted, To: playerID, Payload: r.submittedPayload(playerID)})
            return nil
        }
        if story == "" {
            return ErrEmptyStory
        }
        if utf8.RuneCountInString(story) > MaxStoryLength {
            return ErrStoryTooLong
        }
        r.submissions[playerID] = story
        log.Info().Str("code", r.Code).Str("playerId", playerID).Int("submitted", len(r.submissions)).Msg("story submitted")
        r.emit(Event{Name: EventStorySubmitted, Payload: r.submittedPayload(playerID)})

        if len(r.submissions) >= len(r.players) && r.finishWriting() {
            r.emit(Event{Name: EventAllStoriesSubmitted, Payload: EmptyPayload{}})
            r.maybeAutoJudge()
        }
        return nil
    })
}

// Judge dispatches the oracle for the current round. Only one dispatch per
// judging phase is accepted.
func (r *Room) Judge(playerID string) error {
    return r.call(func() error {
        if r.player(playerID) == nil {
            return ErrNotInRoom
        }
        return r.startJudging()
    })
}

// NextRound leaves the results screen and returns the room to the lobby.
// Scores are kept.
func (r *Room) NextRound(playerID string) error {
    return r.call(func() error {
        if r.player(playerID) == nil {
            return ErrNotInRoom
        }
        if r.phase != PhaseResults {
            return ErrInvalidPhase
        }
        r.resetRound()
        r.setPhase(PhaseLobby)
        r.emit(Event{Name: EventNewRound, Payload: NewRoundPayload{GamePhase: r.phase, Players: r.roster()}})
        return nil
    })
}

func (r *Room) Snapshot() (State, error) {
    var st State
    err := r.call(func() error {
        subs := make(map[string]string, len(r.submissions))
        for k, v := range r.submissions {
            subs[k] = v
        }
        st = State{
            Code:          r.Code,
            IsPublic:      r.IsPublic,
            Phase:         r.phase,
            Players:       r.roster(),
            Prompt:        r.prompt,
            TimeLimit:     r.timeLimit,
            TimeRemaining: r.timeRemaining,
            Round:         r.round,
            Submissions:   subs,
            Results:       append([]RoundResult(nil), r.results...),
            Judging:       r.judging,
        }
        return nil
    })
    return st, err
}

func (r *Room) Summary() (Summary, error) {
    var s Summary
    err := r.call(func() error {
        s = Summary{
            Code:        r.Code,
            PlayerCount: len(r.players),
            Phase:       r.phase,
            IsPublic:    r.IsPublic,
        }
        return nil
    })
    return s, err
}

func (r *Room) onTick(round, remaining int) {
    if r.phase != PhaseWriting || r.round != round {
        return
    }
    r.timeRemaining = remaining
    r.emit(Event{Name: EventTimeUpdate, Payload: TimeUpdatePayload{TimeRemaining: remaining}})
}

func (r *Room) onExpire(round int) {
    if r.phase != PhaseWriting || r.round != round {
        return
    }
    r.timeRemaining = 0
    if !r.finishWriting() {
        return
    }
    log.Info().Str("code", r.Code).Int("submitted", len(r.submissions)).Msg("writing time expired")
    r.emit(Event{Name: EventTimeUp, Payload: TimeUpPayload{GamePhase: r.phase}})
    r.maybeAutoJudge()
}

// finishWriting is the single transition out of writing, shared by the
// all-submitted path and the expiry path. Only the first caller wins.
func (r *Room) finishWriting() bool {
    if r.phase != PhaseWriting {
        return false
    }
    r.countdown.Cancel()
    r.setPhase(PhaseJudging)
    return true
}

func (r *Room) maybeAutoJudge() {
    if !r.opts.AutoJudge {
        return
    }
    if err := r.startJudging(); err != nil {
        log.Warn().Err(err).Str("code", r.Code).Msg("auto judge not started")
    }
}

func (r *Room) startJudging() error {
    if r.phase != PhaseJudging {
        return ErrInvalidPhase
    }
    if r.judging {
        return ErrJudgingInProgress
    }
    r.judging = true
    r.emit(Event{Name: EventJudgingStarted, Payload: EmptyPayload{}})

    stories := r.stories()
    if len(stories) == 0 || r.opts.Oracle == nil {
        r.applyVerdicts(r.round, stories, nil, nil)
        return nil
    }

    round, prompt := r.round, r.prompt
    oracle := r.opts.Oracle
    log.Info().Str("code", r.Code).Int("round", round).Int("stories", len(stories)).Msg("judging dispatched")
    go func() {
        verdicts, err := oracle.Judge(r.ctx, prompt, stories)
        if !r.post(func() { r.applyVerdicts(round, stories, verdicts, err) }) {
            log.Debug().Str("code", r.Code).Int("round", round).Msg("room closed before verdict arrived")
        }
    }()
    return nil
}

// applyVerdicts attaches results for round. Results for a round that was
// abandoned in the meantime are dropped.
func (r *Room) applyVerdicts(round int, stories []Story, verdicts []Verdict, judgeErr error) {
    if r.phase != PhaseJudging || r.round != round || !r.judging {
        log.Info().Str("code", r.Code).Int("round", round).Msg("discarding stale verdict")
        return
    }
    r.judging = false
    if judgeErr != nil {
        log.Error().Err(judgeErr).Str("code", r.Code).Int("round", round).Msg("judging failed")
        r.emit(Event{Name: EventError, Payload: ErrorPayload{
            Message: "The judge could not reach a verdict: " + judgeErr.Error(),
            Code:    "judge_failed",
        }})
    }

    byPlayer := make(map[string]Verdict, len(verdicts))
    for _, v := range verdicts {
        byPlayer[v.PlayerID] = v
    }
    results := make([]RoundResult, 0, len(r.players))
    for _, p := range r.players {
        res := RoundResult{PlayerID: p.ID, PlayerName: p.Name}
        if _, submitted := r.submissions[p.ID]; !submitted {
            res.Forfeit = true
            res.Reasoning = forfeitReasoning
        } else if v, ok := byPlayer[p.ID]; ok && judgeErr == nil {
            res.Survived = v.Survived
            res.Reasoning = v.Reasoning
        } else {
            res.Reasoning = noVerdictReason
        }
        if res.Survived {
            p.Score++
        }
        results = append(results, res)
    }
    r.results = results
    r.setPhase(PhaseResults)
    r.emit(Event{Name: EventRoundResults, Payload: RoundResultsPayload{Results: results, Players: r.roster()}})
    r.record(stories, judgeErr)
}

func (r *Room) record(stories []Story, judgeErr error) {
    if r.opts.Recorder == nil {
        return
    }
    rec := RoundRecord{
        RoomCode:   r.Code,
        Round:      r.round,
        Prompt:     r.prompt,
        TimeLimit:  r.timeLimit,
        Stories:    stories,
        Results:    append([]RoundResult(nil), r.results...),
        Players:    r.roster(),
        FinishedAt: r.clock.Now().UTC(),
    }
    if judgeErr != nil {
        rec.JudgeError = judgeErr.Error()
    }
    recorder := r.opts.Recorder
    go func() {
        if err := recorder.Record(context.Background(), rec); err != nil {
            log.Error().Err(err).Str("code", rec.RoomCode).Int("round", rec.Round).Msg("failed to record round")
        }
    }()
}

func (r *Room) abandonRound() {
    r.countdown.Cancel()
    r.judging = false
    r.resetRound()
    r.setPhase(PhaseLobby)
}

// failRound recovers from a broken operation by returning to the lobby. Other
// rooms are unaffected.
func (r *Room) failRound(reason string) {
    r.countdown.Cancel()
    r.judging = false
    r.resetRound()
    if r.phase != PhaseLobby {
        r.setPhase(PhaseLobby)
    }
    log.Warn().Str("code", r.Code).Str("reason", reason).Msg("round failed")
    defer func() {
        if p := recover(); p != nil {
            log.Error().Str("code", r.Code).Interface("panic", p).Msg("failed to announce round failure")
        }
    }()
    r.emit(Event{Name: EventError, Payload: ErrorPayload{
        Message: "The round was interrupted by a server error and has been reset.",
        Code:    "round_failed",
    }})
}

func (r *Room) resetRound() {
    r.prompt = ""
    r.timeRemaining = 0
    r.submissions = make(map[string]string)
    r.results = nil
}

// reapIfIdle closes the room when nobody is in it and nobody has joined or
// left for longer than idle. It runs on the actor so no join can interleave.
func (r *Room) reapIfIdle(now time.Time, idle time.Duration) bool {
    reaped := false
    err := r.call(func() error {
        if len(r.players) == 0 && now.Sub(r.lastActive) > idle {
            reaped = true
            r.Close()
        }
        return nil
    })
    return err == nil && reaped
}

func (r *Room) setPhase(to Phase) {
    from := r.phase
    if !from.CanTransitionTo(to) {
        panic(fmt.Sprintf("illegal phase transition %s -> %s", from, to))
    }
    r.phase = to
    log.Info().Str("code", r.Code).Str("from", string(from)).Str("to", string(to)).Msg("phase transition")
}

func (r *Room) emit(ev Event) {
    if r.broadcaster == nil {
        return
    }
    r.broadcaster.Broadcast(r.Code, ev)
}

func (r *Room) player(id string) *Player {
    for _, p := range r.players {
        if p.ID == id {
            return p
        }
    }
    return nil
}

func (r *Room) roster() []Player {
    out := make([]Player, 0, len(r.players))
    for _, p := range r.players {
        out = append(out, *p)
    }
    return out
}

func (r *Room) stories() []Story {
    out := make([]Story, 0, len(r.submissions))
    for _, p := range r.players {
        if text, ok := r.submissions[p.ID]; ok {
            out = append(out, Story{PlayerID: p.ID, PlayerName: p.Name, Text: text})
        }
    }
    return out
}

func (r *Room) submittedPayload(playerID string) StorySubmittedPayload {
    return StorySubmittedPayload{
        PlayerID:       playerID,
        TotalSubmitted: len(r.submissions),
        TotalPlayers:   len(r.players),
    }
}
