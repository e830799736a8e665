package businessflow

import "sync"

// keyedMutex serializes work per string key. Used to make status transitions
// on one delivery and inbound messages from one identity run one at a time
// within this process; cross-process races fall back to the conditional
// status updates in the repository.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*lockEntry),
	}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if ok {
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
	}
	k.mu.Unlock()

	if ok {
		entry.mu.Unlock()
	}
}

var (
	deliveryMutex = newKeyedMutex()
	identityMutex = newKeyedMutex()
)

func lockDelivery(uuid string) {
	deliveryMutex.Lock(uuid)
}

func unlockDelivery(uuid string) {
	deliveryMutex.Unlock(uuid)
}

func lockIdentity(identity string) {
	identityMutex.Lock(identity)
}

func unlockIdentity(identity string) {
	identityMutex.Unlock(identity)
}
