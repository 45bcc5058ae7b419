// Package access decides whether a caller may open terminal sessions on a
// target node. Two evaluators exist: KeyTable authorizes SSH public keys
// against a static allow-list (the SSH front door), and Ownership checks
// that the caller is the recorded owner of the target (the web front door).
//
// Every lookup failure is a denial. A caller is never granted access
// because a backing store was unreachable or a record was malformed.
package access

import "errors"

// ErrDenied is returned for every refused authorization, regardless of
// cause, so callers cannot distinguish "unknown target" from "not yours".
var ErrDenied = errors.New("access denied")

// Identity is the resolved caller: a platform user within an organization.
type Identity struct {
	UserID uint
	OrgID  uint
}

// Ownership authorizes a caller against the recorded owner of a cluster.
// The owner must match on both user and organization; an organization
// match alone is not sufficient.
type Ownership struct {
	// Owner returns the recorded owner of the cluster.
	Owner func(clusterID uint) (Identity, error)
}

// Authorize returns nil only if caller is exactly the cluster's owner.
func (o *Ownership) Authorize(caller Identity, clusterID uint) error {
	if o.Owner == nil {
		return ErrDenied
	}
	owner, err := o.Owner(clusterID)
	if err != nil {
		return ErrDenied
	}
	if owner.UserID == 0 || owner.UserID != caller.UserID || owner.OrgID != caller.OrgID {
		return ErrDenied
	}
	return nil
}
