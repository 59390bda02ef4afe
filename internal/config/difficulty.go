package config

import (
	"fmt"
	"strconv"
	"strings"
)

// DifficultyPreset represents a named AI opponent level.
type DifficultyPreset string

const (
	DifficultyEasy   DifficultyPreset = "easy"
	DifficultyNormal DifficultyPreset = "normal"
	DifficultyHard   DifficultyPreset = "hard"
	DifficultyExpert DifficultyPreset = "expert"
)

// Level bounds accepted by the AI opponent.
const (
	MinAILevel = 1
	MaxAILevel = 5
)

// AILevelForPreset returns the bot level for a difficulty preset.
func AILevelForPreset(preset DifficultyPreset) (int, bool) {
	switch preset {
	case DifficultyEasy:
		return 1, true
	case DifficultyNormal:
		return 3, true
	case DifficultyHard:
		return 4, true
	case DifficultyExpert:
		return 5, true
	default:
		return 0, false
	}
}

// ParseDifficulty accepts a preset name or a numeric level.
func ParseDifficulty(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if level, ok := AILevelForPreset(DifficultyPreset(s)); ok {
		return level, nil
	}
	level, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown difficulty %q", s)
	}
	if level < MinAILevel || level > MaxAILevel {
		return 0, fmt.Errorf("difficulty %d out of range %d-%d", level, MinAILevel, MaxAILevel)
	}
	return level, nil
}
