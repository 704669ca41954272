package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloomcrm/journey/pkg/cache"
	"github.com/bloomcrm/journey/pkg/mocks"
	"github.com/bloomcrm/journey/pkg/models"
)

func cachedDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:       "wf-1",
		TenantID: "tenant-1",
		Version:  1,
		Name:     "Welcome",
		Status:   models.WorkflowStatusActive,
	}
}

func TestMemoryCache_ReadThrough(t *testing.T) {
	repo := &mocks.MockWorkflowRepository{}
	repo.On("GetVersion", t.Context(), "wf-1", 1).Return(cachedDefinition(), nil).Once()

	c := cache.NewMemoryCache(repo, time.Minute)

	first, err := c.GetVersion(t.Context(), "wf-1", 1)
	require.NoError(t, err)

	// Second read is served from cache; the mock allows only one call.
	second, err := c.GetVersion(t.Context(), "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	repo.AssertExpectations(t)
}

func TestMemoryCache_InvalidateForcesReload(t *testing.T) {
	repo := &mocks.MockWorkflowRepository{}
	repo.On("GetVersion", t.Context(), "wf-1", 1).Return(cachedDefinition(), nil).Twice()

	c := cache.NewMemoryCache(repo, time.Minute)

	_, err := c.GetVersion(t.Context(), "wf-1", 1)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(t.Context(), "wf-1"))

	_, err = c.GetVersion(t.Context(), "wf-1", 1)
	require.NoError(t, err)

	repo.AssertExpectations(t)
}

func TestMemoryCache_ExpiredEntryReloads(t *testing.T) {
	repo := &mocks.MockWorkflowRepository{}
	repo.On("GetVersion", t.Context(), "wf-1", 1).Return(cachedDefinition(), nil).Twice()

	c := cache.NewMemoryCache(repo, time.Nanosecond)

	_, err := c.GetVersion(t.Context(), "wf-1", 1)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)

	_, err = c.GetVersion(t.Context(), "wf-1", 1)
	require.NoError(t, err)

	repo.AssertExpectations(t)
}
