package service

import (
	"sync"

	"github.com/alexanderramin/blueprint/internal/domain"
)

// keyedLocks serializes work per session id. An entry lives only while
// someone holds or waits for it, so the map does not grow with the number
// of sessions ever seen.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedLocks) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*refLock{}
	}
	l := k.locks[id]
	if l == nil {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

func (k *keyedLocks) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// orderedRecaps lists recaps in stage order.
func orderedRecaps(recaps map[domain.StageID]domain.StageRecap) []domain.StageRecap {
	out := make([]domain.StageRecap, 0, len(recaps))
	for _, st := range domain.Stages() {
		if r, ok := recaps[st.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}
