package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrSnapshotVersion = errors.New("unsupported cart snapshot version")

// Snapshot is the persisted form of a Collection.
type Snapshot struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	ActiveKey string `json:"active_key,omitempty"`
	Carts     []Cart `json:"carts"`
	// Confirmed holds the quantities the remote carts are known to have,
	// per cart key and product.
	Confirmed map[string]map[string]int `json:"confirmed,omitempty"`
	SavedAt   time.Time                 `json:"saved_at"`
}

func NewSnapshot(sessionID string, c *Collection) *Snapshot {
	s := &Snapshot{
		Version:   SnapshotVersion,
		SessionID: sessionID,
		ActiveKey: c.ActiveKey,
		Carts:     make([]Cart, 0, len(c.Carts)),
		SavedAt:   time.Now().UTC(),
	}
	for _, cart := range c.Ordered() {
		s.Carts = append(s.Carts, cart.Clone())
	}
	return s
}

// Collection rebuilds the in-memory collection. Unknown versions are rejected
// rather than partially loaded.
func (s *Snapshot) Collection() (*Collection, error) {
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}
	c := NewCollection()
	for i := range s.Carts {
		cart := s.Carts[i].Clone()
		c.Carts[cart.LocalID] = &cart
	}
	c.Activate(s.ActiveKey)
	return c, nil
}
