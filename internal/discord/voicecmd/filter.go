// Package voicecmd implements keyword detection on final transcripts for
// operator voice shortcuts. It checks finals against a set of regex patterns
// and executes the corresponding assistant actions when a match is found.
//
// Voice commands are only processed for the operator's audio stream
// (identified by their platform user ID) and are intercepted before the
// transcript reaches downstream consumers.
package voicecmd

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/vocifer/vocifer/internal/assistant"
)

// Pattern pairs a compiled regex with the action to execute when it matches.
type Pattern struct {
	// Regex is the compiled pattern. Positional groups are passed to Action
	// as matches[1], matches[2], etc.
	Regex *regexp.Regexp

	// Name is a human-readable label for logging.
	Name string

	// Action executes the voice command using the matched groups.
	// matches is the full submatch slice from Regex.FindStringSubmatch.
	Action func(a *assistant.Assistant, matches []string) (string, error)
}

// Filter checks final transcripts against a set of patterns and executes
// matching voice commands on the guild's assistant.
//
// All methods are safe for concurrent use. Filter is stateless apart from the
// operator ID (the assistant handles its own locking).
type Filter struct {
	patterns []Pattern
	operator string
}

// New creates a Filter that only processes transcripts from operatorID.
// If operatorID is empty, the filter matches no one.
func New(operatorID string) *Filter {
	return &Filter{
		patterns: defaultPatterns(),
		operator: operatorID,
	}
}

// Check tests whether text from userID matches a voice command pattern.
// If a match is found, the corresponding action is executed on a and Check
// returns (true, nil). If no pattern matches, it returns (false, nil).
// Errors from action execution are returned as (true, err).
//
// Only transcripts from the configured operator are checked; all others
// return (false, nil) immediately.
func (f *Filter) Check(userID string, text string, a *assistant.Assistant) (bool, error) {
	if f.operator == "" || userID != f.operator {
		return false, nil
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false, nil
	}

	for _, p := range f.patterns {
		matches := p.Regex.FindStringSubmatch(trimmed)
		if matches == nil {
			continue
		}

		result, err := p.Action(a, matches)
		if err != nil {
			slog.Warn("voicecmd: command failed",
				"pattern", p.Name,
				"text", trimmed,
				"error", err,
			)
			return true, fmt.Errorf("voicecmd: %s: %w", p.Name, err)
		}

		slog.Info("voicecmd: command executed",
			"pattern", p.Name,
			"text", trimmed,
			"result", result,
		)
		return true, nil
	}

	return false, nil
}

// defaultPatterns returns the built-in set of operator voice shortcuts.
func defaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:  "say",
			Regex: regexp.MustCompile(`(?i)^(?:assistant,?\s+)?say\s+(.+)$`),
			Action: func(a *assistant.Assistant, matches []string) (string, error) {
				text := strings.TrimSpace(matches[1])
				if !a.Speak(text) {
					return "", fmt.Errorf("no synthesis engine available")
				}
				return fmt.Sprintf("queued %q", text), nil
			},
		},
		{
			Name:  "skip",
			Regex: regexp.MustCompile(`(?i)^(?:skip|next)(?:\s+(?:that|item))?$`),
			Action: func(a *assistant.Assistant, _ []string) (string, error) {
				if !a.Next() {
					return "nothing playing", nil
				}
				return "skipped", nil
			},
		},
		{
			Name:  "quiet",
			Regex: regexp.MustCompile(`(?i)^(?:be\s+quiet|quiet|stop\s+talking|shut\s+up)$`),
			Action: func(a *assistant.Assistant, _ []string) (string, error) {
				if !a.Stop() {
					return "nothing playing", nil
				}
				return "playback stopped", nil
			},
		},
		{
			Name:  "leave",
			Regex: regexp.MustCompile(`(?i)^(?:leave|hang\s+up|leave\s+the\s+call)$`),
			Action: func(a *assistant.Assistant, _ []string) (string, error) {
				a.Leave()
				return "left the channel", nil
			},
		},
	}
}
