package coordinator

import "sync"

// ModelInfo is one entry in the local model registry surfaced by
// GET /model/list (spec §6).
type ModelInfo struct {
	Name        string  `json:"name"`
	ParamSizeB  float64 `json:"paramSizeB"`
	Active      bool    `json:"active"`
	CostCredits float64 `json:"costCredits"`
}

// ModelRegistry tracks the node's locally available models and the
// in-progress swap/pull operations a worker's local agent reports against
// (spec §4.2 "model swap" / §6 model endpoints).
type ModelRegistry struct {
	mu             sync.Mutex
	models         []ModelInfo
	active         string
	swapInProgress bool
	pullPercent    int
}

// NewModelRegistry seeds a registry with the given locally available models.
func NewModelRegistry(models []ModelInfo) *ModelRegistry {
	r := &ModelRegistry{models: models}
	for _, m := range models {
		if m.Active {
			r.active = m.Name
		}
	}
	return r
}

// List returns the current model set.
func (r *ModelRegistry) List() []ModelInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ModelInfo, len(r.models))
	copy(out, r.models)
	return out
}

// Status returns the active model name and whether a swap is in progress.
func (r *ModelRegistry) Status() (active string, swapping bool, pullPercent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.swapInProgress, r.pullPercent
}

// BeginSwap marks a swap to target in progress; the caller (the node's local
// agent runtime) reports completion via CompleteSwap once the new model is
// loaded.
func (r *ModelRegistry) BeginSwap(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swapInProgress = true
	r.pullPercent = 0
	r.active = target
}

// ReportPullProgress records the current download percentage of an
// in-progress swap (0-100).
func (r *ModelRegistry) ReportPullProgress(percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	r.pullPercent = percent
}

// CompleteSwap clears the in-progress flag once the new model is active.
func (r *ModelRegistry) CompleteSwap() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swapInProgress = false
	r.pullPercent = 100
}
