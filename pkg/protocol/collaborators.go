// Package protocol defines the interfaces between the journey engine and
// its external collaborators. The engine never talks to a messaging,
// reward or CRM backend directly; it only sees these contracts, so the
// whole engine is testable against doubles.
package protocol

import (
	"context"
	"time"

	"github.com/bloomcrm/journey/pkg/models"
)

// ProfileProvider serves read-only subject attribute snapshots for
// condition evaluation.
type ProfileProvider interface {
	GetAttributes(ctx context.Context, tenantID, subjectID string) (models.AttributeMap, error)
}

// ProfileUpdater writes attribute values onto a subject's profile.
type ProfileUpdater interface {
	UpdateAttributes(ctx context.Context, tenantID, subjectID string, fields map[string]any) error
}

// MessageReceipt is the result of handing a message to a channel.
type MessageReceipt struct {
	Delivered bool   `json:"delivered"`
	MessageID string `json:"message_id,omitempty"`
}

// Message is one outbound message. Template and Body are alternatives: a
// template is rendered (and personalized) by the channel backend, a body
// is sent as-is.
type Message struct {
	Channel  string `json:"channel"`
	Template string `json:"template,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body,omitempty"`
}

// Messenger delivers messages to subjects over a channel. Content
// personalization (including any language-model generation) happens behind
// this interface.
type Messenger interface {
	Send(ctx context.Context, tenantID, subjectID string, msg Message) (MessageReceipt, error)
}

// DiscountGrant describes a discount to issue.
type DiscountGrant struct {
	Kind      string     `json:"kind"` // percentage or fixed
	Value     float64    `json:"value"`
	Code      string     `json:"code,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// GiftGrant describes a gift to issue.
type GiftGrant struct {
	Kind        string     `json:"kind"`
	Value       float64    `json:"value,omitempty"`
	Description string     `json:"description,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// RewardLedger issues discounts and gifts. Every call carries an
// idempotency key derived from (enrollment, stage, action index); the
// ledger must treat a repeated key as a no-op so scheduler retries after a
// crash never issue a reward twice.
type RewardLedger interface {
	IssueDiscount(ctx context.Context, tenantID, subjectID, idempotencyKey string, grant DiscountGrant) error
	IssueGift(ctx context.Context, tenantID, subjectID, idempotencyKey string, grant GiftGrant) error
}

// TaskRequest describes a follow-up task for a human operator.
type TaskRequest struct {
	Title    string `json:"title"`
	Assignee string `json:"assignee,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// TaskStore creates operator tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, tenantID, subjectID string, task TaskRequest) error
}

// TagStore attaches tags to subject profiles.
type TagStore interface {
	AddTag(ctx context.Context, tenantID, subjectID, tag string) error
}

// SubjectDirectory enumerates the subjects of a tenant. The schedule
// trigger source uses it to fan scheduled triggers out to every subject.
type SubjectDirectory interface {
	ListSubjects(ctx context.Context, tenantID string) ([]string, error)
}

// Collaborators bundles every external dependency the action executor
// needs. All fields are required.
type Collaborators struct {
	Profiles  ProfileProvider
	Updater   ProfileUpdater
	Messenger Messenger
	Rewards   RewardLedger
	Tasks     TaskStore
	Tags      TagStore
}
