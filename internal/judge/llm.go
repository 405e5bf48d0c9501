package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kiliankoe/storyduel/internal/ai"
	"github.com/kiliankoe/storyduel/internal/game"
)

var ErrMalformedVerdict = errors.New("judge returned a malformed verdict")

// DefaultSystemPrompt instructs the model how to rule on a round.
const DefaultSystemPrompt = `You are the impartial judge of a survival story game.
You get a dangerous scenario and one short story per player describing how they try to survive it.
Decide for every player whether their plan would realistically let them survive.
Reward creativity, but punish plans that ignore the danger or rely on impossible luck.
Answer with a single JSON object of the form
{"verdicts":[{"player":"<label>","survived":true|false,"reasoning":"<one or two sentences>"}]}
and include exactly one verdict for every player label you were given.`

// LLM judges rounds through a chat completion provider. Player ids never
// reach the model; stories are labelled A, B, ... and mapped back.
type LLM struct {
	provider     ai.Provider
	model        string
	systemPrompt string
}

func NewLLM(provider ai.Provider, model, systemPrompt string) *LLM {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &LLM{provider: provider, model: model, systemPrompt: systemPrompt}
}

func (j *LLM) Judge(ctx context.Context, prompt string, stories []game.Story) ([]game.Verdict, error) {
	if len(stories) == 0 {
		return nil, nil
	}
	out, err := j.provider.Complete(ctx, ai.Request{
		Model:        j.model,
		SystemPrompt: j.systemPrompt,
		Prompt:       buildPrompt(prompt, stories),
		JSON:         true,
		Temperature:  0.7,
		MaxTokens:    600,
	})
	if err != nil {
		return nil, fmt.Errorf("%s completion failed: %w", j.provider.Name(), err)
	}
	return parseVerdicts(out, stories)
}

func label(i int) string {
	return string(rune('A' + i))
}

func buildPrompt(prompt string, stories []game.Story) string {
	var b strings.Builder
	b.WriteString("Scenario:\n")
	b.WriteString(prompt)
	b.WriteString("\n\n")
	for i, s := range stories {
		fmt.Fprintf(&b, "Player %s:\n%s\n\n", label(i), s.Text)
	}
	b.WriteString("Return the verdicts as JSON.")
	return b.String()
}

type verdictResponse struct {
	Verdicts []struct {
		Player    string `json:"player"`
		Survived  *bool  `json:"survived"`
		Reasoning string `json:"reasoning"`
	} `json:"verdicts"`
}

// parseVerdicts accepts the model's answer with or without a markdown code
// fence around it and requires exactly one verdict per story.
func parseVerdicts(raw string, stories []game.Story) ([]game.Verdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedVerdict)
	}
	var resp verdictResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}

	byLabel := make(map[string]int, len(stories))
	for i := range stories {
		byLabel[label(i)] = i
	}
	out := make([]game.Verdict, len(stories))
	seen := make([]bool, len(stories))
	for _, v := range resp.Verdicts {
		idx, ok := byLabel[strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v.Player), "Player ")))]
		if !ok {
			return nil, fmt.Errorf("%w: unknown player %q", ErrMalformedVerdict, v.Player)
		}
		if seen[idx] {
			return nil, fmt.Errorf("%w: duplicate verdict for player %s", ErrMalformedVerdict, label(idx))
		}
		if v.Survived == nil {
			return nil, fmt.Errorf("%w: missing outcome for player %s", ErrMalformedVerdict, label(idx))
		}
		seen[idx] = true
		out[idx] = game.Verdict{
			PlayerID:  stories[idx].PlayerID,
			Survived:  *v.Survived,
			Reasoning: strings.TrimSpace(v.Reasoning),
		}
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("%w: no verdict for player %s", ErrMalformedVerdict, label(i))
		}
	}
	return out, nil
}
