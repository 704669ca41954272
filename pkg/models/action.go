package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ActionType identifies one of the closed set of action variants.
type ActionType string

const (
	ActionTypeSendMessage   ActionType = "send_message"
	ActionTypeApplyDiscount ActionType = "apply_discount"
	ActionTypeIssueGift     ActionType = "issue_gift"
	ActionTypeCreateTask    ActionType = "create_task"
	ActionTypeAddTag        ActionType = "add_tag"
	ActionTypeUpdateSubject ActionType = "update_subject"
)

var (
	// ErrUnknownActionType indicates an action variant outside the closed set.
	// This is a configuration error and rejects the whole definition.
	ErrUnknownActionType = errors.New("unknown action type")

	errMissingField = errors.New("missing required action field")
)

// Action is the sealed interface over the action variants. The executor
// dispatches on the concrete type, so adding a variant forces every switch
// to be revisited.
type Action interface {
	Kind() ActionType
	Validate() error

	isAction()
}

// SendMessage sends templated content to the subject over a channel
// (email, sms, push). Content personalization happens inside the
// messaging collaborator, not in the engine.
type SendMessage struct {
	Channel  string `json:"channel"  validate:"required"`
	Template string `json:"template,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body,omitempty"`
}

func (SendMessage) Kind() ActionType { return ActionTypeSendMessage }
func (SendMessage) isAction()        {}

func (a SendMessage) Validate() error {
	if a.Channel == "" {
		return fmt.Errorf("%w: send_message.channel", errMissingField)
	}

	if a.Template == "" && a.Body == "" {
		return fmt.Errorf("%w: send_message needs a template or a body", errMissingField)
	}

	return nil
}

// ApplyDiscount issues a discount code to the subject via the reward ledger.
type ApplyDiscount struct {
	DiscountKind string   `json:"kind"  validate:"required,oneof=percentage fixed"`
	Value        float64  `json:"value" validate:"gt=0"`
	Code         string   `json:"code,omitempty"`
	ExpiresIn    Duration `json:"expires_in,omitempty"`
}

func (ApplyDiscount) Kind() ActionType { return ActionTypeApplyDiscount }
func (ApplyDiscount) isAction()        {}

func (a ApplyDiscount) Validate() error {
	if a.DiscountKind != "percentage" && a.DiscountKind != "fixed" {
		return fmt.Errorf("%w: apply_discount.kind must be percentage or fixed", errMissingField)
	}

	if a.Value <= 0 {
		return fmt.Errorf("%w: apply_discount.value must be positive", errMissingField)
	}

	return nil
}

// IssueGift grants the subject a gift (free item, credit, sample) via the
// reward ledger.
type IssueGift struct {
	GiftKind    string   `json:"kind" validate:"required"`
	Value       float64  `json:"value,omitempty"`
	Description string   `json:"description,omitempty"`
	ExpiresIn   Duration `json:"expires_in,omitempty"`
}

func (IssueGift) Kind() ActionType { return ActionTypeIssueGift }
func (IssueGift) isAction()        {}

func (a IssueGift) Validate() error {
	if a.GiftKind == "" {
		return fmt.Errorf("%w: issue_gift.kind", errMissingField)
	}

	return nil
}

// CreateTask opens a follow-up task for a human operator.
type CreateTask struct {
	Title    string `json:"title" validate:"required"`
	Assignee string `json:"assignee,omitempty"`
	Priority string `json:"priority,omitempty"`
}

func (CreateTask) Kind() ActionType { return ActionTypeCreateTask }
func (CreateTask) isAction()        {}

func (a CreateTask) Validate() error {
	if a.Title == "" {
		return fmt.Errorf("%w: create_task.title", errMissingField)
	}

	return nil
}

// AddTag attaches a tag to the subject's profile.
type AddTag struct {
	Tag string `json:"tag" validate:"required"`
}

func (AddTag) Kind() ActionType { return ActionTypeAddTag }
func (AddTag) isAction()        {}

func (a AddTag) Validate() error {
	if a.Tag == "" {
		return fmt.Errorf("%w: add_tag.tag", errMissingField)
	}

	return nil
}

// UpdateSubject writes attribute values onto the subject's profile.
type UpdateSubject struct {
	Fields map[string]any `json:"fields" validate:"required"`
}

func (UpdateSubject) Kind() ActionType { return ActionTypeUpdateSubject }
func (UpdateSubject) isAction()        {}

func (a UpdateSubject) Validate() error {
	if len(a.Fields) == 0 {
		return fmt.Errorf("%w: update_subject.fields", errMissingField)
	}

	return nil
}

// ActionSpec wraps an Action for JSON (de)serialization. On the wire an
// action is a flat object carrying a "type" discriminator next to the
// variant's own fields.
type ActionSpec struct {
	Action Action
}

func (s ActionSpec) MarshalJSON() ([]byte, error) {
	if s.Action == nil {
		return nil, ErrUnknownActionType
	}

	variant, err := json.Marshal(s.Action)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action: %w", err)
	}

	fields := map[string]any{}
	if err := json.Unmarshal(variant, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten action: %w", err)
	}

	fields["type"] = s.Action.Kind()

	return json.Marshal(fields)
}

func (s *ActionSpec) UnmarshalJSON(data []byte) error {
	action, err := DecodeAction(data)
	if err != nil {
		return err
	}

	s.Action = action

	return nil
}

// DecodeAction decodes one action object into its concrete variant.
// An unrecognised "type" is a configuration error.
func DecodeAction(data []byte) (Action, error) {
	var envelope struct {
		Type ActionType `json:"type"`
	}

	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode action envelope: %w", err)
	}

	var action Action

	switch envelope.Type {
	case ActionTypeSendMessage:
		action = &SendMessage{}
	case ActionTypeApplyDiscount:
		action = &ApplyDiscount{}
	case ActionTypeIssueGift:
		action = &IssueGift{}
	case ActionTypeCreateTask:
		action = &CreateTask{}
	case ActionTypeAddTag:
		action = &AddTag{}
	case ActionTypeUpdateSubject:
		action = &UpdateSubject{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, envelope.Type)
	}

	if err := json.Unmarshal(data, action); err != nil {
		return nil, fmt.Errorf("failed to decode %s action: %w", envelope.Type, err)
	}

	return action, nil
}

// ActionOutcome records one attempt at executing an action during a stage.
type ActionOutcome struct {
	ActionIndex int        `json:"action_index"`
	Type        ActionType `json:"type"`
	Success     bool       `json:"success"`
	Detail      string     `json:"detail,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	AttemptedAt time.Time  `json:"attempted_at"`
	Duration    Duration   `json:"duration"`
}
