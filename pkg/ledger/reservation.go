package ledger

import (
	"time"

	"github.com/lattice-run/lattice/pkg/types"
)

// Reservation is one admitted resource hold against a provider. It
// starts uncommitted (ComponentID empty) until the cold-started
// component announces itself, or it is released.
type Reservation struct {
	ID          string
	ProviderID  string
	Request     types.ResourceRequest
	ComponentID string
	CreatedAt   time.Time
	Committed   bool
}
