// Package ownership decides what happens to a cached state when an identity
// shows up: claim it, keep it, or wipe what another identity left behind.
package ownership

import (
	"strings"

	"github.com/boddenberg/ledger-sync/internal/domain"
)

// Owner is who a cached state belongs to: Unowned or OwnedBy.
type Owner interface {
	isOwner()
}

// Unowned is a state no identity has claimed yet.
type Unowned struct{}

// OwnedBy is a state claimed by Identity.
type OwnedBy struct {
	Identity string
}

func (Unowned) isOwner() {}
func (OwnedBy) isOwner() {}

// OwnerOf reads the owner recorded in state.
func OwnerOf(state *domain.AppState) Owner {
	if state == nil || strings.TrimSpace(state.OwnerUserID) == "" {
		return Unowned{}
	}
	return OwnedBy{Identity: state.OwnerUserID}
}

// Decision is the outcome of comparing an owner with the active identity.
type Decision int

const (
	// Stamp claims an unowned state for the identity.
	Stamp Decision = iota
	// SameOwner leaves the state untouched.
	SameOwner
	// DifferentOwner discards another identity's collections and re-stamps.
	DifferentOwner
)

func (d Decision) String() string {
	switch d {
	case Stamp:
		return "stamp"
	case SameOwner:
		return "same_owner"
	case DifferentOwner:
		return "different_owner"
	}
	return "unknown"
}

// Decide is total over (owner, identity).
func Decide(owner Owner, identity string) Decision {
	switch o := owner.(type) {
	case OwnedBy:
		if o.Identity == identity {
			return SameOwner
		}
		return DifferentOwner
	default:
		return Stamp
	}
}

// Apply returns a copy of state adjusted for identity, and the decision taken.
// A nil state yields a fresh one stamped for identity.
func Apply(state *domain.AppState, identity string) (*domain.AppState, Decision) {
	if state == nil {
		fresh := domain.NewAppState()
		fresh.OwnerUserID = identity
		return fresh, Stamp
	}

	d := Decide(OwnerOf(state), identity)
	next := state.Clone()
	switch d {
	case Stamp:
		next.OwnerUserID = identity
	case DifferentOwner:
		next.ClearOwned()
		next.OwnerUserID = identity
	}
	return next, d
}
