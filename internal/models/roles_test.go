package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSatisfiesPrivilegeChain(t *testing.T) {
	cases := []struct {
		role     UserRole
		required UserRole
		want     bool
	}{
		{RoleSuperAdmin, RoleSuperAdmin, true},
		{RoleSuperAdmin, RoleAdmin, true},
		{RoleSuperAdmin, RoleAgent, true},
		{RoleAdmin, RoleAgent, true},
		{RoleAdmin, RoleSuperAdmin, false},
		{RoleAgent, RoleAdmin, false},
		{RoleAgent, RoleAgent, true},

		// client поза ланцюгом привілеїв в обидва боки
		{RoleSuperAdmin, RoleClient, false},
		{RoleAdmin, RoleClient, false},
		{RoleClient, RoleAgent, false},
		{RoleClient, RoleClient, true},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.role.Satisfies(tc.required),
			"%s satisfies %s", tc.role, tc.required)
	}
}

func TestIsStaff(t *testing.T) {
	assert.False(t, RoleClient.IsStaff())
	assert.True(t, RoleAgent.IsStaff())
	assert.True(t, RoleAdmin.IsStaff())
	assert.True(t, RoleSuperAdmin.IsStaff())
}

func TestCanImpersonate(t *testing.T) {
	assert.True(t, RoleAdmin.CanImpersonate())
	assert.True(t, RoleSuperAdmin.CanImpersonate())
	assert.False(t, RoleAgent.CanImpersonate())
	assert.False(t, RoleClient.CanImpersonate())
}

func TestHomeRoutes(t *testing.T) {
	assert.Equal(t, "/superadmin", RoleSuperAdmin.HomeRoute())
	assert.Equal(t, "/admin", RoleAdmin.HomeRoute())
	assert.Equal(t, "/agent", RoleAgent.HomeRoute())
	assert.Equal(t, "/client", RoleClient.HomeRoute())
}

func TestSwitchPriorityOrder(t *testing.T) {
	assert.Equal(t,
		[]UserRole{RoleSuperAdmin, RoleAdmin, RoleAgent, RoleClient},
		SwitchPriority())
}

func TestRoleFromString(t *testing.T) {
	role, ok := RoleFromString("admin")
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, role)

	_, ok = RoleFromString("moderator")
	assert.False(t, ok)
}
