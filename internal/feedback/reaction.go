package feedback

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidReaction = errors.New("invalid reaction")

type Kind string

const (
	KindAdded   Kind = "added"
	KindRemoved Kind = "removed"
)

type Polarity string

const (
	PolarityUp   Polarity = "up"
	PolarityDown Polarity = "down"
)

type ReactionEvent struct {
	Kind     Kind     `json:"kind"`
	Polarity Polarity `json:"polarity"`
}

// Deltas maps a reaction event to the counter adjustments it causes.
func Deltas(ev ReactionEvent) (up, down int, err error) {
	var step int
	switch ev.Kind {
	case KindAdded:
		step = 1
	case KindRemoved:
		step = -1
	default:
		return 0, 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidReaction, ev.Kind)
	}

	switch ev.Polarity {
	case PolarityUp:
		return step, 0, nil
	case PolarityDown:
		return 0, step, nil
	default:
		return 0, 0, fmt.Errorf("%w: unknown polarity %q", ErrInvalidReaction, ev.Polarity)
	}
}

// ParsePolarity accepts both plain polarities and chat reaction names such as
// "+1" or "thumbsdown".
func ParsePolarity(name string) (Polarity, error) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(name), ":")) {
	case "up", "+1", "thumbsup", "thumbs_up", "like":
		return PolarityUp, nil
	case "down", "-1", "thumbsdown", "thumbs_down", "dislike":
		return PolarityDown, nil
	}
	return "", fmt.Errorf("%w: unknown reaction %q", ErrInvalidReaction, name)
}

func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "added", "add", "reaction_added":
		return KindAdded, nil
	case "removed", "remove", "reaction_removed":
		return KindRemoved, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidReaction, name)
}
