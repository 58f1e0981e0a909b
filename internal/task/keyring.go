package task

import (
	"crypto/ecdsa"
	"sync"
)

// KeySource hands the signing key of a task to the processor exactly once.
type KeySource interface {
	Take(taskID string) (*ecdsa.PrivateKey, bool)
}

// Keyring holds signing keys of pending tasks in memory only. Keys are never
// written to a store or a queue.
type Keyring struct {
	mu   sync.Mutex
	keys map[string]*ecdsa.PrivateKey
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]*ecdsa.PrivateKey)}
}

func (k *Keyring) Put(taskID string, key *ecdsa.PrivateKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[taskID] = key
}

// Take removes and returns the key for taskID.
func (k *Keyring) Take(taskID string) (*ecdsa.PrivateKey, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[taskID]
	delete(k.keys, taskID)
	return key, ok
}

func (k *Keyring) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}
