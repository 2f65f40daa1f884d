package autonomy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// ErrActionNotFound is returned when looking up an unknown action id.
var ErrActionNotFound = errors.New("action not found")

// ActionStatus is the lifecycle state of a queued action.
type ActionStatus uint8

const (
	// ActionPending awaits approval.
	ActionPending ActionStatus = iota
	// ActionApproved is cleared for execution.
	ActionApproved
	// ActionExecuting is running.
	ActionExecuting
	// ActionSucceeded finished cleanly.
	ActionSucceeded
	// ActionFailed exhausted its retries; Diagnostic explains why.
	ActionFailed
	// ActionRejected was declined by the approval policy.
	ActionRejected
)

// String implements fmt.Stringer.
func (s ActionStatus) String() string {
	switch s {
	case ActionPending:
		return "pending"
	case ActionApproved:
		return "approved"
	case ActionExecuting:
		return "executing"
	case ActionSucceeded:
		return "succeeded"
	case ActionFailed:
		return "failed"
	case ActionRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Action is one unit of queued maintenance work.
type Action struct {
	ID         uuid.UUID      `json:"id"`
	Type       HypothesisType `json:"type"`
	Region     Region         `json:"region"`
	Priority   float64        `json:"priority"`
	Status     ActionStatus   `json:"status"`
	Attempts   int            `json:"attempts"`
	Detail     string         `json:"detail"`
	Diagnostic string         `json:"diagnostic,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Queue persists actions in badger so queued work survives restarts.
// Cool-down markers are badger entries with a TTL, so dedup windows
// expire without a sweeper.
type Queue struct {
	db *badger.DB
}

// OpenQueue opens the action queue at dir. An empty dir opens an
// in-memory queue for tests.
func OpenQueue(dir string) (*Queue, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open action queue: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

func actionKey(id uuid.UUID) []byte {
	return []byte("action:" + id.String())
}

func cooldownKey(t HypothesisType, r Region) []byte {
	return fmt.Appendf(nil, "cooldown:%s:%s", t, r)
}

// Enqueue persists a new action. A zero ID is assigned.
func (q *Queue) Enqueue(a *Action) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	return q.put(*a)
}

// Get returns one action by id.
func (q *Queue) Get(id uuid.UUID) (Action, error) {
	var a Action
	err := q.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(actionKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrActionNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &a)
		})
	})
	return a, err
}

// Update rewrites an action's persisted state.
func (q *Queue) Update(a Action) error {
	if _, err := q.Get(a.ID); err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	return q.put(a)
}

// SetStatus transitions an action and records a diagnostic.
func (q *Queue) SetStatus(id uuid.UUID, status ActionStatus, diagnostic string) error {
	a, err := q.Get(id)
	if err != nil {
		return err
	}
	a.Status = status
	a.Diagnostic = diagnostic
	return q.Update(a)
}

// Approve transitions a pending action to approved.
func (q *Queue) Approve(id uuid.UUID) error {
	a, err := q.Get(id)
	if err != nil {
		return err
	}
	if a.Status != ActionPending {
		return fmt.Errorf("action %s is %s, not pending", id, a.Status)
	}
	a.Status = ActionApproved
	return q.Update(a)
}

// List returns all actions ordered by descending priority, then
// creation time.
func (q *Queue) List() ([]Action, error) {
	var out []Action
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("action:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var a Action
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			})
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListByStatus filters List by status.
func (q *Queue) ListByStatus(status ActionStatus) ([]Action, error) {
	all, err := q.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

// MarkCooldown opens a dedup window for (type, region).
func (q *Queue) MarkCooldown(t HypothesisType, r Region, ttl time.Duration) error {
	return q.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(cooldownKey(t, r), nil).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// InCooldown reports whether (type, region) is inside a dedup window.
func (q *Queue) InCooldown(t HypothesisType, r Region) (bool, error) {
	err := q.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(cooldownKey(t, r))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queue) put(a Action) error {
	val, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(actionKey(a.ID), val)
	})
}
