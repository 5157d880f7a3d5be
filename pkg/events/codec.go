package events

import (
	"encoding/json"
	"fmt"
)

// UnknownTypeError is returned when a decoded record carries a type tag
// outside the closed union.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

// DecodeError wraps a malformed event record.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode event: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Marshal encodes an event as a single JSON object with its type tag set.
func Marshal(e Event) ([]byte, error) {
	e.envelope().Type = e.Kind()
	return json.Marshal(e)
}

// Unmarshal decodes a single event record. Records with a type tag outside
// the union fail with UnknownTypeError; malformed JSON fails with
// DecodeError.
func Unmarshal(data []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &DecodeError{Line: string(data), Err: err}
	}

	var e Event
	switch head.Type {
	case TypeSystemInit:
		e = &SystemInit{}
	case TypeUserMessage:
		e = &UserMessage{}
	case TypeUserQuestion:
		e = &UserQuestion{}
	case TypeAssistantDelta:
		e = &AssistantDelta{}
	case TypeAssistantMessage:
		e = &AssistantMessage{}
	case TypeToolUse:
		e = &ToolUse{}
	case TypeToolResult:
		e = &ToolResult{}
	case TypeToolOutputCompacted:
		e = &ToolOutputCompacted{}
	case TypeHookEvent:
		e = &HookEvent{}
	case TypeSkillActivated:
		e = &SkillActivated{}
	case TypeUserCompaction:
		e = &UserCompaction{}
	case TypeSessionCheckpoint:
		e = &SessionCheckpoint{}
	case TypeSessionSetHead:
		e = &SessionSetHead{}
	case TypeSessionUndo:
		e = &SessionUndo{}
	case TypeSessionRedo:
		e = &SessionRedo{}
	case TypeResult:
		e = &Result{}
	default:
		return nil, &UnknownTypeError{Type: string(head.Type)}
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, &DecodeError{Line: string(data), Err: err}
	}
	return e, nil
}
