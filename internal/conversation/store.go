package conversation

import (
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const stripes = 64

// DefaultTTL is how long an untouched conversation survives.
const DefaultTTL = 30 * time.Minute

// Store keeps one State per user with an inactivity TTL. Mutations for the
// same user are serialized; different users only share a lock when their ids
// hash to the same stripe.
type Store struct {
	states *cache.Cache
	ttl    time.Duration
	locks  [stripes]sync.Mutex
}

// NewStore creates a store whose entries expire after ttl of inactivity.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		states: cache.New(ttl, ttl/2),
		ttl:    ttl,
	}
}

func key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func (s *Store) lock(userID int64) *sync.Mutex {
	return &s.locks[uint64(userID)%stripes]
}

// Get returns the user's state, IdleState when absent or expired.
func (s *Store) Get(userID int64) State {
	if v, ok := s.states.Get(key(userID)); ok {
		return v.(State)
	}
	return IdleState
}

func (s *Store) put(userID int64, st State) {
	if st.Stage == Idle {
		s.states.Delete(key(userID))
		return
	}
	s.states.Set(key(userID), st, s.ttl)
}

// Apply runs Transition on the user's current state and stores the result
// atomically with respect to other Apply calls for the same user. The caller
// performs the returned effect after Apply returns, outside the lock.
func (s *Store) Apply(userID int64, ev Event) Outcome {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	out := Transition(s.Get(userID), ev)
	s.put(userID, out.Next)
	return out
}

// Reset returns the user to Idle.
func (s *Store) Reset(userID int64) {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()
	s.states.Delete(key(userID))
}

// Len returns the number of non-idle conversations.
func (s *Store) Len() int {
	return s.states.ItemCount()
}
