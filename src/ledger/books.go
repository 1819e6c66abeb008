package ledger

import (
	"sync"

	"executioncore/src/model"
)

// bookSet maps accounts to their private order books. The outer lock only
// guards map growth; every book carries its own mutex so accounts never
// contend with each other.
type bookSet struct {
	mu    sync.RWMutex
	books map[uint]*accountBook
}

type accountBook struct {
	mu     sync.Mutex
	orders map[string]*model.Order
}

func newBookSet() *bookSet {
	return &bookSet{books: make(map[uint]*accountBook)}
}

func (s *bookSet) get(accountID uint) *accountBook {
	s.mu.RLock()
	book, ok := s.books[accountID]
	s.mu.RUnlock()
	if ok {
		return book
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if book, ok = s.books[accountID]; ok {
		return book
	}

	book = &accountBook{orders: make(map[string]*model.Order)}
	s.books[accountID] = book
	return book
}
