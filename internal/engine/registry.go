package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opuadm/HappyPhoneBot/internal/netsim"
)

// TransferState is one in-flight simulated transfer. It lives only in the
// registry; a process restart drops in-flight transfers.
type TransferState struct {
	ID            uuid.UUID   `json:"id"`
	UserID        string      `json:"user_id"`
	Key           string      `json:"key"`
	Label         string      `json:"label"`
	SizeKB        float64     `json:"size_kb"`
	Steps         netsim.Plan `json:"steps"`
	CurrentStep   int         `json:"current_step"`
	StartedAt     time.Time   `json:"started_at"`
	LastUpdate    time.Time   `json:"last_update"`
	IsUpdate      bool        `json:"is_update"`
	TargetVersion string      `json:"target_version,omitempty"`
	TargetBranch  string      `json:"target_branch,omitempty"`

	// mu serializes polls, recalculations and status reads touching this
	// transfer; the registry mutex only guards the map itself.
	mu   sync.Mutex
	done bool
}

// CurrentProgress returns the progress and message of the step the transfer
// currently sits on.
func (t *TransferState) CurrentProgress() (float64, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	step := t.Steps[t.CurrentStep]
	return step.ProgressPct, step.Message
}

// Registry tracks active transfers keyed by (userID, transferKey). It is
// the only mutable shared state in the simulation core.
type Registry struct {
	mu        sync.RWMutex
	transfers map[string]*TransferState
}

// NewRegistry creates an empty transfer registry.
func NewRegistry() *Registry {
	return &Registry{transfers: make(map[string]*TransferState)}
}

func registryKey(userID, transferKey string) string {
	return userID + "\x00" + transferKey
}

// Get returns the transfer for (userID, transferKey), if any.
func (r *Registry) Get(userID, transferKey string) (*TransferState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.transfers[registryKey(userID, transferKey)]
	return state, ok
}

// Set stores state under (userID, transferKey). A nil state removes the
// entry, which is a no-op if it was already absent.
func (r *Registry) Set(userID, transferKey string, state *TransferState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(userID, transferKey)
	if state == nil {
		delete(r.transfers, key)
		return
	}
	r.transfers[key] = state
}

// ForUser returns the user's active transfers, ordered by transfer key so
// poll output is deterministic.
func (r *Registry) ForUser(userID string) []*TransferState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var states []*TransferState
	for _, state := range r.transfers {
		if state.UserID == userID {
			states = append(states, state)
		}
	}

	sort.Slice(states, func(i, j int) bool { return states[i].Key < states[j].Key })
	return states
}
