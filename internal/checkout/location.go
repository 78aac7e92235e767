package checkout

import (
	"sync"

	"github.com/fjod/storefront-sync/internal/domain"
)

// Locations holds the delivery address or pickup store picked by the user.
type Locations struct {
	mu  sync.RWMutex
	loc domain.Location
}

func NewLocations(initial domain.Location) *Locations {
	return &Locations{loc: initial}
}

func (l *Locations) Current() domain.Location {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loc
}

func (l *Locations) Set(loc domain.Location) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loc = loc
}

// Clear drops the address and store after the backend stopped recognizing
// them. Mode and service level are kept so the picker can preselect them.
func (l *Locations) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loc.AddressID = ""
	l.loc.StoreID = ""
}
