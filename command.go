package opix

import (
	"errors"
	"fmt"
)

// Verbs accepted by [Tracker.Call].
const (
	VerbInit  = "init"
	VerbParam = "param"
	VerbEvent = "event"
)

var (
	// ErrInvalidCommand is returned for a known verb with missing or empty arguments.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrUnknownVerb is returned for any verb other than init, param and event.
	ErrUnknownVerb = errors.New("unknown verb")
)

// Command is a parsed invocation. It is one of [InitCommand], [ParamCommand]
// or [EventCommand].
type Command interface {
	// Verb returns the invocation verb.
	Verb() string

	isCommand()
}

// InitCommand sets the tracker identifier.
type InitCommand struct {
	TrackerID string
}

// ParamCommand registers a custom attribute sent with every event.
type ParamCommand struct {
	Key   string
	Value Value
}

// EventCommand dispatches a named event.
type EventCommand struct {
	Name string
	Data Value
}

func (InitCommand) Verb() string  { return VerbInit }
func (ParamCommand) Verb() string { return VerbParam }
func (EventCommand) Verb() string { return VerbEvent }

func (InitCommand) isCommand()  {}
func (ParamCommand) isCommand() {}
func (EventCommand) isCommand() {}

// ParseCommand validates a raw invocation. Arguments past the second are ignored.
//
//	init(id string)
//	param(key string, value any)   value may be a producer, see [ValueOf]
//	event(name string, data ...any)
func ParseCommand(verb string, args ...any) (Command, error) {
	switch verb {
	case VerbInit:
		id, ok := stringArg(args, 0)
		if !ok {
			return nil, fmt.Errorf("%w: init requires a tracker id", ErrInvalidCommand)
		}
		return InitCommand{TrackerID: id}, nil

	case VerbParam:
		key, ok := stringArg(args, 0)
		if !ok || len(args) < 2 {
			return nil, fmt.Errorf("%w: param requires a key and a value", ErrInvalidCommand)
		}
		return ParamCommand{Key: key, Value: ValueOf(args[1])}, nil

	case VerbEvent:
		name, ok := stringArg(args, 0)
		if !ok {
			return nil, fmt.Errorf("%w: event requires a name", ErrInvalidCommand)
		}
		var data Value
		if len(args) > 1 {
			data = ValueOf(args[1])
		}
		return EventCommand{Name: name, Data: data}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}
}

// stringArg returns args[i] if it is a non-empty string.
func stringArg(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
