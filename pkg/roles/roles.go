// Package roles answers the single question the core asks about identity:
// is this caller authorized for role X. Key custody and account provisioning
// live outside the core.
package roles

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnauthorized is returned by any operation whose caller lacks the
// required role or does not own the record it is acting on.
var ErrUnauthorized = errors.New("unauthorized")

type Role string

const (
	Feeder      Role = "feeder"       // oracle band updates
	OracleAdmin Role = "oracle-admin" // staleness window configuration
	VenueAdmin  Role = "venue-admin"  // venue state and fee schedule
	PoolAdmin   Role = "pool-admin"   // lending pool LTV configuration
)

type Authorizer interface {
	Allowed(addr common.Address, role Role) bool
}

// StaticAuthorizer is a fixed role table, typically built from params.Config.
type StaticAuthorizer struct {
	mu      sync.RWMutex
	members map[Role]map[common.Address]struct{}
}

func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{members: make(map[Role]map[common.Address]struct{})}
}

func (a *StaticAuthorizer) Grant(addr common.Address, role Role) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.members[role] == nil {
		a.members[role] = make(map[common.Address]struct{})
	}
	a.members[role][addr] = struct{}{}
}

func (a *StaticAuthorizer) Allowed(addr common.Address, role Role) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.members[role][addr]
	return ok
}
