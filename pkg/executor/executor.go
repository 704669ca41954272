// Package executor runs the actions of a stage against the external
// collaborators. Failures are converted into outcomes, never propagated:
// a failed action must not wedge the enrollment or re-run its siblings.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/otelhelper"
	"github.com/bloomcrm/journey/pkg/protocol"
)

const (
	defaultActionTimeout = 30 * time.Second
	defaultMaxAttempts   = 3
	initialBackoff       = 500 * time.Millisecond
)

// Executor executes stage actions in declaration order, retrying transient
// failures with exponential backoff.
type Executor struct {
	collaborators protocol.Collaborators
	logger        *slog.Logger
	tracer        trace.Tracer

	actionTimeout time.Duration
	maxAttempts   uint64
}

type Option func(*Executor)

func WithActionTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.actionTimeout = d
	}
}

func WithMaxAttempts(n uint64) Option {
	return func(e *Executor) {
		// Zero would underflow the retry budget; the floor is one attempt.
		if n == 0 {
			n = 1
		}

		e.maxAttempts = n
	}
}

func NewExecutor(logger *slog.Logger, tracer trace.Tracer, collaborators protocol.Collaborators, opts ...Option) *Executor {
	e := &Executor{
		collaborators: collaborators,
		logger:        logger.With("module", "executor"),
		tracer:        tracer,
		actionTimeout: defaultActionTimeout,
		maxAttempts:   defaultMaxAttempts,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ExecuteStage runs every action of the stage, in order, exactly once per
// call. Each action gets one outcome; a failure is recorded and execution
// continues with the next action.
func (e *Executor) ExecuteStage(ctx context.Context, enrollment *models.Enrollment, stage *models.Stage) []models.ActionOutcome {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "executor.execute_stage",
		attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID),
		attribute.String(otelhelper.StageIDKey, stage.ID),
	)
	defer span.End()

	outcomes := make([]models.ActionOutcome, 0, len(stage.Actions))

	for index, spec := range stage.Actions {
		outcome := e.executeAction(ctx, enrollment, stage, index, spec.Action)
		outcomes = append(outcomes, outcome)

		if !outcome.Success {
			e.logger.WarnContext(ctx, "Action failed",
				"enrollment_id", enrollment.ID,
				"stage_id", stage.ID,
				"action_index", index,
				"action_type", outcome.Type,
				"attempts", outcome.Attempts,
				"error", outcome.Error,
			)
		}
	}

	return outcomes
}

func (e *Executor) executeAction(ctx context.Context, enrollment *models.Enrollment, stage *models.Stage, index int, action models.Action) models.ActionOutcome {
	started := time.Now().UTC()
	outcome := models.ActionOutcome{
		ActionIndex: index,
		Type:        action.Kind(),
		AttemptedAt: started,
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "executor.execute_action",
		attribute.String(otelhelper.ActionTypeKey, string(action.Kind())),
		attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID),
	)
	defer span.End()

	// The key makes reward issuance safe to retry across crashes: the
	// ledger deduplicates on it.
	idempotencyKey := fmt.Sprintf("%s:%s:%d", enrollment.ID, stage.ID, index)

	attempts := 0
	operation := func() error {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
		defer cancel()

		detail, err := e.dispatch(attemptCtx, enrollment, idempotencyKey, action)
		if err != nil {
			return err
		}

		outcome.Detail = detail

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(initialBackoff),
		), e.maxAttempts-1),
		ctx,
	)

	err := backoff.Retry(operation, policy)

	outcome.Attempts = attempts
	outcome.Duration = models.Duration(time.Since(started))

	if err != nil {
		outcome.Error = err.Error()
		otelhelper.SetError(span, err)

		return outcome
	}

	outcome.Success = true

	return outcome
}

// dispatch routes one action variant to its collaborator. The switch is
// exhaustive over the closed action set.
func (e *Executor) dispatch(ctx context.Context, enrollment *models.Enrollment, idempotencyKey string, action models.Action) (string, error) {
	tenantID := enrollment.TenantID
	subjectID := enrollment.SubjectID

	switch a := action.(type) {
	case *models.SendMessage:
		receipt, err := e.collaborators.Messenger.Send(ctx, tenantID, subjectID, protocol.Message{
			Channel:  a.Channel,
			Template: a.Template,
			Subject:  a.Subject,
			Body:     a.Body,
		})
		if err != nil {
			return "", fmt.Errorf("send message via %s: %w", a.Channel, err)
		}

		return receipt.MessageID, nil

	case *models.ApplyDiscount:
		grant := protocol.DiscountGrant{
			Kind:      a.DiscountKind,
			Value:     a.Value,
			Code:      a.Code,
			ExpiresAt: expiry(a.ExpiresIn),
		}
		if err := e.collaborators.Rewards.IssueDiscount(ctx, tenantID, subjectID, idempotencyKey, grant); err != nil {
			return "", fmt.Errorf("issue discount: %w", err)
		}

		return a.Code, nil

	case *models.IssueGift:
		grant := protocol.GiftGrant{
			Kind:        a.GiftKind,
			Value:       a.Value,
			Description: a.Description,
			ExpiresAt:   expiry(a.ExpiresIn),
		}
		if err := e.collaborators.Rewards.IssueGift(ctx, tenantID, subjectID, idempotencyKey, grant); err != nil {
			return "", fmt.Errorf("issue gift: %w", err)
		}

		return a.GiftKind, nil

	case *models.CreateTask:
		task := protocol.TaskRequest{
			Title:    a.Title,
			Assignee: a.Assignee,
			Priority: a.Priority,
		}
		if err := e.collaborators.Tasks.CreateTask(ctx, tenantID, subjectID, task); err != nil {
			return "", fmt.Errorf("create task: %w", err)
		}

		return a.Title, nil

	case *models.AddTag:
		if err := e.collaborators.Tags.AddTag(ctx, tenantID, subjectID, a.Tag); err != nil {
			return "", fmt.Errorf("add tag %q: %w", a.Tag, err)
		}

		return a.Tag, nil

	case *models.UpdateSubject:
		if err := e.collaborators.Updater.UpdateAttributes(ctx, tenantID, subjectID, a.Fields); err != nil {
			return "", fmt.Errorf("update subject attributes: %w", err)
		}

		return "", nil

	default:
		// Unreachable for definitions that passed validation.
		return "", backoff.Permanent(fmt.Errorf("%w: %T", models.ErrUnknownActionType, action))
	}
}

func expiry(in models.Duration) *time.Time {
	if in == 0 {
		return nil
	}

	at := time.Now().UTC().Add(time.Duration(in))

	return &at
}
