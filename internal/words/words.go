// Package words supplies the word sequence for a game.
package words

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/DoyleJ11/spellduel/internal/engine"
)

var ErrNotEnoughWords = errors.New("not enough words")

// Source picks the ordered words for one game.
type Source interface {
	Pick(ctx context.Context, cfg engine.Config) ([]engine.Word, error)
}

type Static struct {
	words   []engine.Word
	shuffle func(n int, swap func(i, j int))
}

func NewStatic(list []engine.Word) *Static {
	return &Static{words: list, shuffle: rand.Shuffle}
}

// Pick filters by cfg.Difficulty and returns cfg.WordCount words, shuffled
// unless the selection mode is sequential.
func (s *Static) Pick(ctx context.Context, cfg engine.Config) ([]engine.Word, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pool := make([]engine.Word, 0, len(s.words))
	for _, w := range s.words {
		if cfg.Difficulty == "" || strings.EqualFold(w.Difficulty, cfg.Difficulty) {
			pool = append(pool, w)
		}
	}
	if len(pool) < cfg.WordCount {
		return nil, fmt.Errorf("%w: want %d %s words, have %d", ErrNotEnoughWords, cfg.WordCount, difficulty(cfg), len(pool))
	}

	if cfg.SelectionMode != engine.SelectSequential {
		s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	}
	return pool[:cfg.WordCount], nil
}

func difficulty(cfg engine.Config) string {
	if cfg.Difficulty == "" {
		return "any"
	}
	return cfg.Difficulty
}

// Default is the built-in list.
func Default() *Static {
	return NewStatic(builtin)
}

func entry(id, text, diff, def string) engine.Word {
	return engine.Word{ID: id, Text: text, Difficulty: diff, Definition: def}
}

var builtin = []engine.Word{
	entry("e01", "apple", "easy", "a round fruit with red or green skin"),
	entry("e02", "garden", "easy", "a piece of ground where plants are grown"),
	entry("e03", "pencil", "easy", "an instrument for writing made of wood and graphite"),
	entry("e04", "window", "easy", "an opening in a wall fitted with glass"),
	entry("e05", "friend", "easy", "a person you know well and like"),
	entry("e06", "yellow", "easy", "the colour of ripe lemons"),
	entry("e07", "bridge", "easy", "a structure carrying a road across a river"),
	entry("e08", "winter", "easy", "the coldest season of the year"),
	entry("m01", "necessary", "medium", "required to be done or present"),
	entry("m02", "separate", "medium", "forming a unit by itself"),
	entry("m03", "calendar", "medium", "a chart showing the days of a year"),
	entry("m04", "tomorrow", "medium", "the day after today"),
	entry("m05", "beginning", "medium", "the point at which something starts"),
	entry("m06", "argument", "medium", "an exchange of diverging views"),
	entry("m07", "library", "medium", "a building containing books for loan"),
	entry("m08", "February", "medium", "the second month of the year"),
	entry("h01", "accommodate", "hard", "to provide lodging or room for"),
	entry("h02", "conscientious", "hard", "wishing to do what is right"),
	entry("h03", "millennium", "hard", "a period of a thousand years"),
	entry("h04", "onomatopoeia", "hard", "a word that imitates a sound"),
	entry("h05", "rhythm", "hard", "a strong regular repeated pattern"),
	entry("h06", "questionnaire", "hard", "a set of printed questions for a survey"),
	entry("h07", "liaison", "hard", "communication between groups"),
	entry("h08", "mischievous", "hard", "causing or showing a fondness for trouble"),
}
