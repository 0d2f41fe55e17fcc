package target

import (
	"sort"
	"sync"

	errorc "certdeploy/pkg/core/err"
)

// Registry 已配置的部署目标，第一个注册的目标为默认目标
type Registry struct {
	mu        sync.RWMutex
	targets   map[string]DeploymentTarget
	defaultID string
}

func NewRegistry(targets ...DeploymentTarget) *Registry {
	r := &Registry{targets: make(map[string]DeploymentTarget)}
	for _, t := range targets {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t DeploymentTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaultID == "" {
		r.defaultID = t.ID()
	}
	r.targets[t.ID()] = t
}

// Resolve 空 ID 返回默认目标
func (r *Registry) Resolve(targetID string) (DeploymentTarget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if targetID == "" {
		targetID = r.defaultID
	}
	t, ok := r.targets[targetID]
	if !ok {
		return nil, errorc.New("部署目标不存在: "+targetID, nil).NotFound()
	}
	return t, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
