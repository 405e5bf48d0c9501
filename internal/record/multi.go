package record

import (
	"context"

	"github.com/kiliankoe/storyduel/internal/game"
	"github.com/rs/zerolog/log"
)

// Multi hands every record to each recorder. A failing recorder is logged
// and does not stop the others.
type Multi []game.Recorder

func (m Multi) Record(ctx context.Context, rec game.RoundRecord) error {
	for _, r := range m {
		if err := r.Record(ctx, rec); err != nil {
			log.Error().Err(err).Str("code", rec.RoomCode).Int("round", rec.Round).Msg("recorder failed")
		}
	}
	return nil
}
