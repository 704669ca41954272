// Package local provides in-process collaborator implementations backed by
// memory. They serve development and single-binary deployments; production
// deployments replace them with real channel, reward and CRM backends.
package local

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/protocol"
)

// SentMessage is one message recorded by the local messenger.
type SentMessage struct {
	TenantID  string
	SubjectID string
	Message   protocol.Message
	MessageID string
}

// Store implements every collaborator contract over in-memory state.
type Store struct {
	logger *slog.Logger

	mu       sync.RWMutex
	profiles map[string]map[string]models.AttributeMap
	issued   map[string]struct{}
	sent     []SentMessage
	tasks    map[string][]protocol.TaskRequest
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{
		logger:   logger.With("module", "local_collaborators"),
		profiles: make(map[string]map[string]models.AttributeMap),
		issued:   make(map[string]struct{}),
		tasks:    make(map[string][]protocol.TaskRequest),
	}
}

// Collaborators returns the store wired into the executor's bundle.
func (s *Store) Collaborators() protocol.Collaborators {
	return protocol.Collaborators{
		Profiles:  s,
		Updater:   s,
		Messenger: s,
		Rewards:   s,
		Tasks:     s,
		Tags:      s,
	}
}

// SeedProfile installs a subject profile, creating the tenant bucket on
// first use.
func (s *Store) SeedProfile(tenantID, subjectID string, attrs models.AttributeMap) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureProfileLocked(tenantID, subjectID)

	for k, v := range attrs {
		s.profiles[tenantID][subjectID][k] = v
	}
}

func (s *Store) ensureProfileLocked(tenantID, subjectID string) {
	if s.profiles[tenantID] == nil {
		s.profiles[tenantID] = make(map[string]models.AttributeMap)
	}

	if s.profiles[tenantID][subjectID] == nil {
		s.profiles[tenantID][subjectID] = make(models.AttributeMap)
	}
}

func (s *Store) GetAttributes(_ context.Context, tenantID, subjectID string) (models.AttributeMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attrs := make(models.AttributeMap)
	for k, v := range s.profiles[tenantID][subjectID] {
		attrs[k] = v
	}

	return attrs, nil
}

func (s *Store) UpdateAttributes(_ context.Context, tenantID, subjectID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureProfileLocked(tenantID, subjectID)

	for k, v := range fields {
		s.profiles[tenantID][subjectID][k] = v
	}

	return nil
}

func (s *Store) Send(ctx context.Context, tenantID, subjectID string, msg protocol.Message) (protocol.MessageReceipt, error) {
	messageID := uuid.New().String()

	s.mu.Lock()
	s.sent = append(s.sent, SentMessage{
		TenantID:  tenantID,
		SubjectID: subjectID,
		Message:   msg,
		MessageID: messageID,
	})
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Delivered message",
		"tenant_id", tenantID, "subject_id", subjectID,
		"channel", msg.Channel, "template", msg.Template)

	return protocol.MessageReceipt{Delivered: true, MessageID: messageID}, nil
}

// Sent returns a copy of every recorded message.
func (s *Store) Sent() []SentMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.sent)
}

func (s *Store) IssueDiscount(ctx context.Context, tenantID, subjectID, idempotencyKey string, grant protocol.DiscountGrant) error {
	if !s.claimKey(idempotencyKey) {
		s.logger.DebugContext(ctx, "Skipping repeated discount grant", "idempotency_key", idempotencyKey)

		return nil
	}

	s.logger.InfoContext(ctx, "Issued discount",
		"tenant_id", tenantID, "subject_id", subjectID,
		"kind", grant.Kind, "value", grant.Value)

	return nil
}

func (s *Store) IssueGift(ctx context.Context, tenantID, subjectID, idempotencyKey string, grant protocol.GiftGrant) error {
	if !s.claimKey(idempotencyKey) {
		s.logger.DebugContext(ctx, "Skipping repeated gift grant", "idempotency_key", idempotencyKey)

		return nil
	}

	s.logger.InfoContext(ctx, "Issued gift",
		"tenant_id", tenantID, "subject_id", subjectID, "kind", grant.Kind)

	return nil
}

// claimKey records an idempotency key and reports whether it was fresh.
func (s *Store) claimKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.issued[key]; ok {
		return false
	}

	s.issued[key] = struct{}{}

	return true
}

func (s *Store) CreateTask(ctx context.Context, tenantID, subjectID string, task protocol.TaskRequest) error {
	s.mu.Lock()
	s.tasks[tenantID] = append(s.tasks[tenantID], task)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Created task",
		"tenant_id", tenantID, "subject_id", subjectID, "title", task.Title)

	return nil
}

// Tasks returns the tasks recorded for a tenant.
func (s *Store) Tasks(tenantID string) []protocol.TaskRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.tasks[tenantID])
}

func (s *Store) AddTag(ctx context.Context, tenantID, subjectID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureProfileLocked(tenantID, subjectID)

	tags, _ := s.profiles[tenantID][subjectID]["tags"].([]string)
	if !slices.Contains(tags, tag) {
		s.profiles[tenantID][subjectID]["tags"] = append(tags, tag)
	}

	return nil
}

func (s *Store) ListSubjects(_ context.Context, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subjects := make([]string, 0, len(s.profiles[tenantID]))
	for subjectID := range s.profiles[tenantID] {
		subjects = append(subjects, subjectID)
	}

	slices.Sort(subjects)

	return subjects, nil
}
