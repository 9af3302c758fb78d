package service

import (
	"sync"
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

const (
	defaultAutoCompleteTimeout = 30 * time.Minute
	defaultMaxActiveTickets    = 3
	defaultConflictRetries     = 3
	defaultEstimatedTime       = "15-30 minutes"
)

// LifecyclePolicy holds the deployment-level knobs of the state machine.
type LifecyclePolicy struct {
	AutoCompleteTimeout time.Duration
	MaxActiveTickets    int
	// ResolutionStatus is where MarkAsResolved lands: pending-payment or completed.
	ResolutionStatus domain.TicketStatus
	ConflictRetries  int
}

// DefaultLifecyclePolicy returns the production defaults.
func DefaultLifecyclePolicy() LifecyclePolicy {
	return LifecyclePolicy{
		AutoCompleteTimeout: defaultAutoCompleteTimeout,
		MaxActiveTickets:    defaultMaxActiveTickets,
		ResolutionStatus:    domain.TicketStatusPendingPayment,
		ConflictRetries:     defaultConflictRetries,
	}
}

// PolicyFromConfig maps lifecycle settings onto a policy.
func PolicyFromConfig(cfg config.LifecycleConfig) LifecyclePolicy {
	return LifecyclePolicy{
		AutoCompleteTimeout: cfg.AutoCompleteTimeout(),
		MaxActiveTickets:    cfg.MaxActiveTickets,
		ResolutionStatus:    cfg.ResolutionStatus,
		ConflictRetries:     cfg.ConflictRetries,
	}.withDefaults()
}

func (p LifecyclePolicy) withDefaults() LifecyclePolicy {
	def := DefaultLifecyclePolicy()
	if p.AutoCompleteTimeout <= 0 {
		p.AutoCompleteTimeout = def.AutoCompleteTimeout
	}
	if p.MaxActiveTickets <= 0 {
		p.MaxActiveTickets = def.MaxActiveTickets
	}
	if p.ResolutionStatus != domain.TicketStatusCompleted {
		p.ResolutionStatus = domain.TicketStatusPendingPayment
	}
	if p.ConflictRetries < 0 {
		p.ConflictRetries = 0
	}
	return p
}

// KeyedLocks serializes work per key within one process. Managers built for
// different callers share one instance so an engineer's concurrent claims
// run one at a time.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocks returns an empty lock table.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for key and returns its release func.
func (k *KeyedLocks) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

var processLocks = NewKeyedLocks()
