package session

import (
	"context"
	"fmt"
	"strings"
)

const (
	boundaryTitlePrompt = "Suggest three concise, professional calendar event titles for a block of personal focus time. " +
		"Examples: 'Deep Work', 'Strategic Planning', 'No Meetings'. Return as a comma-separated list."
	agendaPrompt = "Create a concise 3-point agenda for a meeting titled %q. Use bullet points."
)

func (s *Session) suggest(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	sg := s.suggester
	s.mu.Unlock()
	if sg == nil {
		return "", ErrNoSuggester
	}
	text, err := sg.Suggest(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to get suggestion: %w", err)
	}
	return text, nil
}

// SuggestBoundaryTitle asks the suggestion service for a focus-block title
// and returns the first proposal.
func (s *Session) SuggestBoundaryTitle(ctx context.Context) (string, error) {
	text, err := s.suggest(ctx, boundaryTitlePrompt)
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(text, ",")
	first = strings.TrimSpace(strings.NewReplacer(`"`, "", "'", "").Replace(first))
	if first == "" {
		return "", fmt.Errorf("suggestion service returned no title")
	}
	return first, nil
}

// Agenda drafts a short agenda for a loaded event.
func (s *Session) Agenda(ctx context.Context, eventID string) (string, error) {
	s.mu.Lock()
	ev, err := s.findLocked(eventID)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.suggest(ctx, fmt.Sprintf(agendaPrompt, ev.Title))
}
