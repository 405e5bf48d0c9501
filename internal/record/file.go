package record

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kiliankoe/storyduel/internal/game"
)

// File appends a human-readable transcript of every finished round to a
// text file.
type File struct {
	Path string

	mu   sync.Mutex
	seen map[string]bool
}

func NewFile(path string) *File {
	return &File{Path: path, seen: make(map[string]bool)}
}

func (f *File) Record(_ context.Context, rec game.RoundRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	fileExists := false
	if _, err := os.Stat(f.Path); err == nil {
		fileExists = true
	}
	file, err := os.OpenFile(f.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var sb strings.Builder

	// Header once per room per process
	if !f.seen[rec.RoomCode] {
		f.seen[rec.RoomCode] = true
		if fileExists {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "StoryDuel Results - Room %s\n", rec.RoomCode)
		fmt.Fprintf(&sb, "Started: %s\n", rec.FinishedAt.Format("2006-01-02 15:04:05"))
		sb.WriteString(strings.Repeat("=", 50) + "\n\n")
	}

	fmt.Fprintf(&sb, "Round %d (%ds): %q\n", rec.Round, rec.TimeLimit, rec.Prompt)
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	for _, s := range rec.Stories {
		fmt.Fprintf(&sb, "- %s: %q\n", s.PlayerName, s.Text)
	}

	sb.WriteString("\nVerdicts:\n")
	for _, r := range rec.Results {
		outcome := "died"
		switch {
		case r.Forfeit:
			outcome = "forfeited"
		case r.Survived:
			outcome = "survived"
		}
		fmt.Fprintf(&sb, "- %s %s: %s\n", r.PlayerName, outcome, r.Reasoning)
	}
	if rec.JudgeError != "" {
		fmt.Fprintf(&sb, "Judge error: %s\n", rec.JudgeError)
	}

	players := append([]game.Player(nil), rec.Players...)
	sort.SliceStable(players, func(i, j int) bool { return players[i].Score > players[j].Score })
	sb.WriteString("\nScores after this round:\n")
	for _, p := range players {
		fmt.Fprintf(&sb, "- %s: %d points\n", p.Name, p.Score)
	}
	sb.WriteString("\n")

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}
