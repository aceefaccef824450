package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectFlowSubmit:
		var p FlowSubmitPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if strings.TrimSpace(p.InputText) == "" {
			return fmt.Errorf("schema validation failed for %s: input_text is required", subject)
		}
		return nil
	case SubjectFlowTransition:
		return unmarshalInto(subject, data, &FlowTransitionPayload{})
	case SubjectFlowFinished:
		return unmarshalInto(subject, data, &FlowFinishedPayload{})
	case SubjectBackendKilled:
		return unmarshalInto(subject, data, &BackendKilledPayload{})
	default:
		return nil
	}
}

func unmarshalInto(subject string, data []byte, target any) error {
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
