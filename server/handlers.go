package server

import (
	"database/sql"
	"sync"
	"time"

	"github.com/edustream/liveclass/config"
	"github.com/edustream/liveclass/recording"
	"github.com/edustream/liveclass/schedule"
	"github.com/edustream/liveclass/session"
	"github.com/edustream/liveclass/youtubeapi"
)

// Maximum number of OAuth states kept in memory.
const maxOAuthStates = 10000

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db         *sql.DB
	cfg        *config.Config
	sessions   session.Store
	recordings recording.Store
	planner    *schedule.Planner
	reconciler *session.Reconciler
	auth       *youtubeapi.Service

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// Deps wires the handler dependencies.
type Deps struct {
	DB         *sql.DB
	Cfg        *config.Config
	Sessions   session.Store
	Recordings recording.Store
	Planner    *schedule.Planner
	Reconciler *session.Reconciler
	Auth       *youtubeapi.Service
}

// NewHandlers creates a Handlers instance.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		db:         d.DB,
		cfg:        d.Cfg,
		sessions:   d.Sessions,
		recordings: d.Recordings,
		planner:    d.Planner,
		reconciler: d.Reconciler,
		auth:       d.Auth,
		stateStore: make(map[string]time.Time),
	}
}

func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState stores a pending OAuth state, bounding memory growth.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return
	}
	h.stateStore[state] = expiry
}

// takeOAuthState validates and consumes a state. Returns false for unknown or
// expired states.
func (h *Handlers) takeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	expiry, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(expiry)
}
