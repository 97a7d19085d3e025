package domain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/totegamma/attendance-tracker"
)

func TestDeriveRole(t *testing.T) {
	me := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	unregistered := &tracker.UserRecord{}
	registered := &tracker.UserRecord{Profile: "Ada", Registered: true}

	tests := []struct {
		name      string
		identity  *common.Address
		admin     *common.Address
		user      *tracker.UserRecord
		signedIn  bool
		wantRole  Role
		wantAdmin bool
		wantKnown bool
	}{
		{name: "no identity", wantRole: RoleUnconnected},
		{name: "admin unresolved", identity: &me, user: registered, wantRole: RoleResolving},
		{name: "user unresolved", identity: &me, admin: &me, wantRole: RoleResolving},
		{name: "unregistered visitor", identity: &me, admin: &other, user: unregistered, wantRole: RoleConnectedUnregistered, wantKnown: true},
		{name: "registered", identity: &me, admin: &other, user: registered, wantRole: RoleConnectedRegistered, wantKnown: true},
		{name: "signed in", identity: &me, admin: &other, user: registered, signedIn: true, wantRole: RoleSignedIn, wantKnown: true},
		{name: "sign in needs registration", identity: &me, admin: &other, user: unregistered, signedIn: true, wantRole: RoleConnectedUnregistered, wantKnown: true},
		{name: "unregistered admin", identity: &me, admin: &me, user: unregistered, wantRole: RoleConnectedUnregistered, wantAdmin: true, wantKnown: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveRole(tt.identity, tt.admin, tt.user, tt.signedIn)
			if got.Role != tt.wantRole || got.IsAdmin != tt.wantAdmin || got.Known != tt.wantKnown {
				t.Errorf("DeriveRole() = %+v, want role=%s admin=%v known=%v", got, tt.wantRole, tt.wantAdmin, tt.wantKnown)
			}
		})
	}
}

func TestDeriveRoleNeverGrantsAdminWhileResolving(t *testing.T) {
	me := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	got := DeriveRole(&me, &me, nil, false)
	if got.IsAdmin {
		t.Fatalf("admin granted before registration read resolved")
	}
}
