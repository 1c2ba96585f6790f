package store

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Alturino/cartsync/cart/pkg/model"
	inErrors "github.com/Alturino/cartsync/internal/errors"
)

// Listener receives a snapshot of the cart after every change.
type Listener func(items []model.LineItem)

// Store is the local, authoritative cart of one browser session. Every
// method is atomic; listeners run on the calling goroutine after the lock
// is released.
type Store struct {
	listeners    map[uint64]Listener
	items        []model.LineItem
	mu           sync.RWMutex
	nextListener uint64
	owner        uuid.UUID
}

func New() *Store {
	return &Store{listeners: map[uint64]Listener{}}
}

func (s *Store) indexOf(productID int64) int {
	for i, item := range s.items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// Mutation is what a change saw under the store lock: the owner of the cart
// and the remote id of the touched line item at that moment.
type Mutation struct {
	RemoteID *uuid.UUID
	Owner    uuid.UUID
	Applied  bool
}

// AddItem increments the quantity of an existing line item or appends a new
// one. A non-positive quantity is ignored. Quantities saturate at
// math.MaxInt32.
func (s *Store) AddItem(product model.Product, quantity int32) Mutation {
	if quantity <= 0 {
		return Mutation{Owner: s.Owner()}
	}

	s.mu.Lock()
	i := s.indexOf(product.ID)
	if i >= 0 {
		s.items[i].Quantity = addQuantity(s.items[i].Quantity, quantity)
	} else {
		i = len(s.items)
		s.items = append(s.items, model.NewLineItem(product, quantity))
	}
	m := Mutation{RemoteID: copyID(s.items[i].RemoteID), Owner: s.owner, Applied: true}
	s.mu.Unlock()

	s.publish()
	return m
}

// SetQuantity sets the quantity exactly; quantity <= 0 removes the item.
// The returned RemoteID is the one the item had before the change.
func (s *Store) SetQuantity(productID int64, quantity int32) Mutation {
	if quantity <= 0 {
		return s.RemoveItem(productID)
	}

	s.mu.Lock()
	i := s.indexOf(productID)
	if i < 0 {
		m := Mutation{Owner: s.owner}
		s.mu.Unlock()
		return m
	}
	m := Mutation{RemoteID: copyID(s.items[i].RemoteID), Owner: s.owner, Applied: true}
	if s.items[i].Quantity == quantity {
		s.mu.Unlock()
		return m
	}
	s.items[i].Quantity = quantity
	s.mu.Unlock()

	s.publish()
	return m
}

func (s *Store) RemoveItem(productID int64) Mutation {
	s.mu.Lock()
	i := s.indexOf(productID)
	if i < 0 {
		m := Mutation{Owner: s.owner}
		s.mu.Unlock()
		return m
	}
	m := Mutation{RemoteID: copyID(s.items[i].RemoteID), Owner: s.owner, Applied: true}
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	s.mu.Unlock()

	s.publish()
	return m
}

// Clear empties the cart but keeps its owner.
func (s *Store) Clear() Mutation {
	s.mu.Lock()
	s.items = nil
	m := Mutation{Owner: s.owner, Applied: true}
	s.mu.Unlock()

	s.publish()
	return m
}

// Disown keeps the items but makes the cart anonymous and forgets every
// remote id, so nothing changed from now on is mirrored to the previous
// owner.
func (s *Store) Disown() {
	s.mu.Lock()
	if s.owner == uuid.Nil {
		s.mu.Unlock()
		return
	}
	s.owner = uuid.Nil
	for i := range s.items {
		s.items[i].RemoteID = nil
	}
	s.mu.Unlock()

	s.publish()
}

// Reset empties the cart and makes it anonymous.
func (s *Store) Reset() {
	s.mu.Lock()
	s.items = nil
	s.owner = uuid.Nil
	s.mu.Unlock()

	s.publish()
}

// ReplaceAll swaps the whole cart for items owned by owner. uuid.Nil means
// anonymous. On duplicate product ids the later entry wins and keeps the
// position of the first one.
func (s *Store) ReplaceAll(owner uuid.UUID, items []model.LineItem) error {
	replaced := make([]model.LineItem, 0, len(items))
	positions := make(map[int64]int, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return fmt.Errorf(
				"productId=%d quantity=%d with error=%w",
				item.ProductID,
				item.Quantity,
				inErrors.ErrInvalidLineItem,
			)
		}
		if item.RemoteID != nil && owner == uuid.Nil {
			return fmt.Errorf("productId=%d with error=%w", item.ProductID, inErrors.ErrAnonymousRemote)
		}
		item.RemoteID = copyID(item.RemoteID)
		if i, ok := positions[item.ProductID]; ok {
			replaced[i] = item
			continue
		}
		positions[item.ProductID] = len(replaced)
		replaced = append(replaced, item)
	}

	s.mu.Lock()
	s.items = replaced
	s.owner = owner
	s.mu.Unlock()

	s.publish()
	return nil
}

// AttachRemoteID links a line item to its persisted record. It only applies
// while owner still owns the cart and the item is still present.
func (s *Store) AttachRemoteID(owner uuid.UUID, productID int64, remoteID uuid.UUID) bool {
	s.mu.Lock()
	i := s.indexOf(productID)
	if owner == uuid.Nil || s.owner != owner || i < 0 {
		s.mu.Unlock()
		return false
	}
	if current := s.items[i].RemoteID; current != nil && *current == remoteID {
		s.mu.Unlock()
		return true
	}
	s.items[i].RemoteID = &remoteID
	s.mu.Unlock()

	s.publish()
	return true
}

func (s *Store) Owner() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

func (s *Store) Item(productID int64) (model.LineItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(productID)
	if i < 0 {
		return model.LineItem{}, false
	}
	item := s.items[i]
	item.RemoteID = copyID(item.RemoteID)
	return item, true
}

func (s *Store) Items() []model.LineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// TotalPrice sums DiscountedUnitPrice x Quantity over the current items. It
// is recomputed on every call.
func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Subscribe registers fn and returns a function that unregisters it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) publish() {
	s.mu.RLock()
	items := s.snapshot()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(items)
	}
}

// snapshot must be called with the lock held.
func (s *Store) snapshot() []model.LineItem {
	items := make([]model.LineItem, len(s.items))
	for i, item := range s.items {
		item.RemoteID = copyID(item.RemoteID)
		items[i] = item
	}
	return items
}

func addQuantity(current, delta int32) int32 {
	sum := int64(current) + int64(delta)
	if sum > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(sum)
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
