package judge

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/kiliankoe/storyduel/internal/game"
)

var (
	survivedReasons = []string{
		"Against all odds, the plan holds together just long enough.",
		"Quick thinking and a bit of luck carry the day.",
		"It is messy, but it works.",
	}
	diedReasons = []string{
		"The plan falls apart at the worst possible moment.",
		"Bold, but the scenario was not impressed.",
		"A fine idea that nobody survives to tell about.",
	}
)

// Dice rules on rounds at random. It is used when no language model is
// configured so the game stays playable offline.
type Dice struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewDice(src rand.Source) *Dice {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Dice{rng: rand.New(src)}
}

func (d *Dice) Judge(ctx context.Context, _ string, stories []game.Story) ([]game.Verdict, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]game.Verdict, 0, len(stories))
	for _, s := range stories {
		survived := d.rng.Intn(2) == 0
		reasons := diedReasons
		if survived {
			reasons = survivedReasons
		}
		out = append(out, game.Verdict{
			PlayerID:  s.PlayerID,
			Survived:  survived,
			Reasoning: reasons[d.rng.Intn(len(reasons))],
		})
	}
	return out, nil
}
