package infrastructure

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/domain"
)

// MemoryMissionRepository keeps missions in process memory.
type MemoryMissionRepository struct {
	mu       sync.RWMutex
	missions map[string]*domain.Mission
}

func NewMemoryMissionRepository() *MemoryMissionRepository {
	return &MemoryMissionRepository{missions: make(map[string]*domain.Mission)}
}

func (r *MemoryMissionRepository) Save(ctx context.Context, mission *domain.Mission) error {
	if mission == nil {
		return fmt.Errorf("mission cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missions[mission.ID()] = mission
	return nil
}

func (r *MemoryMissionRepository) FindByID(ctx context.Context, id string) (*domain.Mission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mission, ok := r.missions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissionNotFound, id)
	}
	return mission, nil
}

// FindAll returns missions ordered by creation time.
func (r *MemoryMissionRepository) FindAll(ctx context.Context) ([]*domain.Mission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Mission, 0, len(r.missions))
	for _, m := range r.missions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].ID() < out[j].ID()
		}
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out, nil
}

func (r *MemoryMissionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.missions[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrMissionNotFound, id)
	}
	delete(r.missions, id)
	return nil
}
