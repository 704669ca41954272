package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence"
)

// WorkflowRepository stores one JSON file per definition version under
// <root>/workflows.
type WorkflowRepository struct {
	root string
	mu   *sync.Mutex
}

func (r *WorkflowRepository) dir() string {
	return filepath.Join(r.root, "workflows")
}

func (r *WorkflowRepository) path(id string, version int) string {
	return filepath.Join(r.dir(), fmt.Sprintf("%s-v%d.json", id, version))
}

// Save upserts one definition version.
func (r *WorkflowRepository) Save(_ context.Context, def *models.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.write(def)
}

func (r *WorkflowRepository) write(def *models.WorkflowDefinition) error {
	if err := os.MkdirAll(r.dir(), 0o755); err != nil {
		return persistence.NewWorkflowError("Save", def.ID, err)
	}

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return persistence.NewWorkflowError("Save", def.ID, err)
	}

	if err := os.WriteFile(r.path(def.ID, def.Version), data, 0o600); err != nil {
		return persistence.NewWorkflowError("Save", def.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) read(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var def models.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode workflow file %s: %w", path, err)
	}

	return &def, nil
}

func (r *WorkflowRepository) all() ([]*models.WorkflowDefinition, error) {
	root := os.DirFS(r.dir())

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	defs := make([]*models.WorkflowDefinition, 0, len(files))

	for _, file := range files {
		def, err := r.read(filepath.Join(r.dir(), file))
		if err != nil {
			return nil, err
		}

		defs = append(defs, def)
	}

	return defs, nil
}

// GetByID returns the highest stored version of the definition.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	defs, err := r.all()
	if err != nil {
		return nil, err
	}

	var latest *models.WorkflowDefinition

	for _, def := range defs {
		if def.ID != id {
			continue
		}

		if latest == nil || def.Version > latest.Version {
			latest = def
		}
	}

	if latest == nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return latest, nil
}

// GetVersion returns one pinned definition version.
func (r *WorkflowRepository) GetVersion(_ context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	def, err := r.read(r.path(id, version))
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, persistence.NewWorkflowError("GetVersion", id, persistence.ErrWorkflowVersionNotFound)
		}

		return nil, err
	}

	return def, nil
}

// List returns definitions filtered and paginated in memory.
func (r *WorkflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) ([]*models.WorkflowDefinition, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	defs, err := r.all()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowDefinition, 0, len(defs))

	for _, def := range defs {
		if opts.TenantID != "" && def.TenantID != opts.TenantID {
			continue
		}

		if opts.Status != nil && def.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, def)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].Version > filtered[j].Version
		}

		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	start := opts.Offset
	if start >= len(filtered) {
		return []*models.WorkflowDefinition{}, nil
	}

	end := start + opts.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return filtered[start:end], nil
}

// ActiveByTriggerType returns active definitions whose trigger matches.
func (r *WorkflowRepository) ActiveByTriggerType(_ context.Context, tenantID, triggerType string) ([]*models.WorkflowDefinition, error) {
	defs, err := r.all()
	if err != nil {
		return nil, err
	}

	matches := make([]*models.WorkflowDefinition, 0)

	for _, def := range defs {
		if def.Status == models.WorkflowStatusActive &&
			def.TenantID == tenantID &&
			def.Trigger.Type == triggerType {
			matches = append(matches, def)
		}
	}

	return matches, nil
}

// Scheduled returns active definitions carrying a cron schedule.
func (r *WorkflowRepository) Scheduled(_ context.Context) ([]*models.WorkflowDefinition, error) {
	defs, err := r.all()
	if err != nil {
		return nil, err
	}

	matches := make([]*models.WorkflowDefinition, 0)

	for _, def := range defs {
		if def.Status == models.WorkflowStatusActive && def.Trigger.Schedule != "" {
			matches = append(matches, def)
		}
	}

	return matches, nil
}

// IncrementAnalytics applies a counter delta under the store lock.
func (r *WorkflowRepository) IncrementAnalytics(ctx context.Context, id string, version int, delta models.AnalyticsDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.incrementLocked(ctx, id, version, delta)
}

// incrementLocked requires the caller to hold the store lock.
func (r *WorkflowRepository) incrementLocked(ctx context.Context, id string, version int, delta models.AnalyticsDelta) error {
	def, err := r.GetVersion(ctx, id, version)
	if err != nil {
		return err
	}

	def.Analytics.Apply(delta)

	return r.write(def)
}
