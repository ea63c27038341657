package queue

import (
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/scriptorium/internal/apperr"
)

// Action names a registry mutation.
type Action string

// Registry mutations, in the order producers usually emit them.
const (
	ActionCreate     Action = "create"
	ActionConvert    Action = "convert"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionDependency Action = "dependency"
)

// Payload is the action-specific part of a Record. Each action has its own
// concrete type carrying only the fields it needs.
type Payload interface {
	Action() Action
	Validate() error
}

// Create registers a verbose document.
type Create struct {
	Path         string   `json:"path"`
	Category     string   `json:"category,omitempty"`
	Subcategory  string   `json:"subcategory,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Agent        string   `json:"agent,omitempty"`
	// Dependencies replaces the stored list when non-nil. An empty list
	// clears it; null leaves it untouched.
	Dependencies []string `json:"dependencies"`
}

// Action implements Payload.
func (Create) Action() Action { return ActionCreate }

// Validate implements Payload.
func (c Create) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Path, validation.Required),
	)
}

// Convert attaches a compact representation. Path optionally names the
// verbose document; otherwise it is located from JSONPath.
type Convert struct {
	Path     string `json:"path,omitempty"`
	JSONPath string `json:"json_path"`
	Category string `json:"category,omitempty"`
	Agent    string `json:"agent,omitempty"`
}

// Action implements Payload.
func (Convert) Action() Action { return ActionConvert }

// Validate implements Payload.
func (c Convert) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.JSONPath, validation.Required),
	)
}

// Update re-measures whichever representation Path names and optionally
// overwrites the summary.
type Update struct {
	Path    string `json:"path"`
	Summary string `json:"summary,omitempty"`
}

// Action implements Payload.
func (Update) Action() Action { return ActionUpdate }

// Validate implements Payload.
func (u Update) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Path, validation.Required),
	)
}

// Delete removes the document owning Path (either representation).
type Delete struct {
	Path string `json:"path"`
}

// Action implements Payload.
func (Delete) Action() Action { return ActionDelete }

// Validate implements Payload.
func (d Delete) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Path, validation.Required),
	)
}

// Dependency replaces a document's dependency list. The target is named by
// Path, or by Key within Category.
type Dependency struct {
	Path         string   `json:"path,omitempty"`
	Category     string   `json:"category,omitempty"`
	Key          string   `json:"key,omitempty"`
	Dependencies []string `json:"dependencies"`
}

// Action implements Payload.
func (Dependency) Action() Action { return ActionDependency }

// Validate implements Payload.
func (d Dependency) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Path, validation.Required.When(d.Key == "").Error("path or key is required")),
		validation.Field(&d.Category, validation.Required.When(d.Path == "" && d.Key != "").Error("category is required with key")),
	)
}

// Record is one queued mutation.
type Record struct {
	Payload   Payload
	Timestamp time.Time
}

// Action returns the record's action.
func (r Record) Action() Action {
	if r.Payload == nil {
		return ""
	}
	return r.Payload.Action()
}

type envelope struct {
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON encodes the record as one flat object: the payload fields plus
// "action" and "timestamp".
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Payload == nil {
		return nil, fmt.Errorf("queue: record has no payload: %w", apperr.ErrInvalidUpdate)
	}
	body, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["action"], _ = json.Marshal(r.Payload.Action())
	if !r.Timestamp.IsZero() {
		fields["timestamp"], _ = json.Marshal(r.Timestamp)
	}
	return json.Marshal(fields)
}

// UnmarshalJSON decodes the flat form written by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	p, err := decodePayload(env.Action, data)
	if err != nil {
		return err
	}
	r.Payload = p
	r.Timestamp = env.Timestamp
	return nil
}

// ParseUpdate decodes a flat update object such as
// {"action":"create","path":"implementation/api-design.md"} and validates it.
func ParseUpdate(data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("queue: decode update: %v: %w", err, apperr.ErrInvalidUpdate)
	}
	p, err := decodePayload(env.Action, data)
	if err != nil {
		return nil, fmt.Errorf("queue: %v: %w", err, apperr.ErrInvalidUpdate)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("queue: %s: %v: %w", env.Action, err, apperr.ErrInvalidUpdate)
	}
	return p, nil
}

func decodePayload(action Action, data []byte) (Payload, error) {
	var p Payload
	switch action {
	case ActionCreate:
		var v Create
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		p = v
	case ActionConvert:
		var v Convert
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		p = v
	case ActionUpdate:
		var v Update
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		p = v
	case ActionDelete:
		var v Delete
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		p = v
	case ActionDependency:
		var v Dependency
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		p = v
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
	return p, nil
}
