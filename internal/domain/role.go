package domain

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/totegamma/attendance-tracker"
)

type Role int

const (
	RoleUnconnected Role = iota
	// RoleResolving is a connected identity whose ledger reads have not
	// both resolved yet. Every role-gated action is closed.
	RoleResolving
	RoleConnectedUnregistered
	RoleConnectedRegistered
	RoleSignedIn
)

func (r Role) String() string {
	switch r {
	case RoleUnconnected:
		return "Unconnected"
	case RoleResolving:
		return "Resolving"
	case RoleConnectedUnregistered:
		return "ConnectedUnregistered"
	case RoleConnectedRegistered:
		return "ConnectedRegistered"
	case RoleSignedIn:
		return "SignedIn"
	default:
		return "Error"
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// RoleView is the role of the active identity together with the admin flag.
type RoleView struct {
	Role    Role            `json:"role"`
	Known   bool            `json:"roleKnown"`
	IsAdmin bool            `json:"isAdmin"`
	Profile tracker.Profile `json:"profile,omitempty"`
}

func (v RoleView) Registered() bool {
	return v.Role == RoleConnectedRegistered || v.Role == RoleSignedIn
}

// DeriveRole computes the role from the active identity and the latest
// ledger reads. A nil read means it has not resolved. signedIn only takes
// effect on a registered identity.
func DeriveRole(identity *common.Address, admin *common.Address, user *tracker.UserRecord, signedIn bool) RoleView {
	if identity == nil {
		return RoleView{Role: RoleUnconnected}
	}
	if admin == nil || user == nil {
		return RoleView{Role: RoleResolving}
	}

	view := RoleView{
		Known:   true,
		IsAdmin: *admin == *identity,
	}
	switch {
	case !user.Registered:
		view.Role = RoleConnectedUnregistered
	case signedIn:
		view.Role = RoleSignedIn
		view.Profile = user.Profile
	default:
		view.Role = RoleConnectedRegistered
		view.Profile = user.Profile
	}
	return view
}
