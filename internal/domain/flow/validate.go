package flow

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Strob0t/QueryWarden/internal/domain"
)

// MaxInputLength bounds the ticket text accepted by Start.
const MaxInputLength = 16 * 1024

var validActions = map[Action]bool{
	ActionTerminated: true,
	ActionNoAction:   true,
	ActionEscalated:  true,
}

// ValidateInput checks the free-text issue description.
func ValidateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("input_text is required: %w", domain.ErrValidation)
	}
	if len(text) > MaxInputLength {
		return fmt.Errorf("input_text exceeds %d bytes: %w", MaxInputLength, domain.ErrValidation)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("input_text must be valid UTF-8: %w", domain.ErrValidation)
	}
	return nil
}

// Validate rejects results that leave the action unset or use an unknown action.
func (r *Result) Validate() error {
	if r.QueryResolutionAction == "" {
		return fmt.Errorf("query_resolution_action is required: %w", domain.ErrValidation)
	}
	if !validActions[r.QueryResolutionAction] {
		return fmt.Errorf("invalid query_resolution_action %q: %w", r.QueryResolutionAction, domain.ErrValidation)
	}
	return nil
}

// ParseRouteTag normalizes classifier output. Unknown tags come back unchanged
// so the orchestrator can reject them explicitly.
func ParseRouteTag(s string) RouteTag {
	return RouteTag(strings.ToLower(strings.Trim(strings.TrimSpace(s), `"'.`)))
}
