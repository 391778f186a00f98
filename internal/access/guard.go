// Package access holds the caller identity threaded through every operation
// and the single ownership rule applied to clients and orders.
package access

import "github.com/joao-fontenele/salesflow/internal/domain"

// Caller is the resolved identity of whoever issued a request. The zero
// value is the unauthenticated caller.
type Caller struct {
	SellerID string
}

var Anonymous = Caller{}

func AsSeller(sellerID string) Caller {
	return Caller{SellerID: sellerID}
}

func (c Caller) Authenticated() bool {
	return c.SellerID != ""
}

type Decision bool

const (
	Allowed Decision = true
	Denied  Decision = false
)

// Check compares the caller against the owner recorded on a resource.
func Check(caller Caller, ownerID string) Decision {
	if !caller.Authenticated() || ownerID == "" {
		return Denied
	}
	return Decision(caller.SellerID == ownerID)
}

// Authorize is Check expressed as an error: nil when allowed,
// domain.ErrForbidden otherwise.
func Authorize(caller Caller, ownerID string) error {
	if Check(caller, ownerID) == Denied {
		return domain.ErrForbidden
	}
	return nil
}

// Require fails with domain.ErrUnauthenticated for the anonymous caller.
// Used by operations scoped to "the caller's own" resources.
func Require(caller Caller) error {
	if !caller.Authenticated() {
		return domain.ErrUnauthenticated
	}
	return nil
}
