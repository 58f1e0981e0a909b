package swap

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// walletLocks serialises nonce read, sign and broadcast per wallet so two
// concurrent swaps from the same key never reuse a pending nonce.
type walletLocks struct {
	locks sync.Map
}

func (w *walletLocks) lock(wallet common.Address) func() {
	v, _ := w.locks.LoadOrStore(wallet, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
