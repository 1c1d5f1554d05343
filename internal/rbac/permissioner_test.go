// internal/rbac/permissioner_test.go
package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermissioner_AbsentUserDeniesEverything(t *testing.T) {
	p := NewPermissioner()
	assert.False(t, p.CanPoll(1, 10))
	assert.False(t, p.CanSend(1, 10))
	assert.False(t, p.CanManageServers(1))
}

func TestPermissioner_GlobalPollAll(t *testing.T) {
	p := NewPermissioner()
	p.InitForUser(1, Permissions{PollAllStreams: true}, nil)

	assert.True(t, p.CanPoll(1, 10))
	assert.True(t, p.CanPoll(1, 99))
	assert.False(t, p.CanSend(1, 10))
}

func TestPermissioner_PerStreamGrant(t *testing.T) {
	p := NewPermissioner()
	p.InitForUser(1, Permissions{}, map[uint32]StreamPermissions{
		10: {Poll: true},
	})

	assert.True(t, p.CanPoll(1, 10))
	assert.False(t, p.CanPoll(1, 11))
	assert.False(t, p.CanSend(1, 10))
}

func TestPermissioner_ManageServersBypassesEverything(t *testing.T) {
	p := NewPermissioner()
	p.InitForUser(1, Permissions{ManageServers: true}, nil)

	assert.True(t, p.CanPoll(1, 123))
	assert.True(t, p.CanSend(1, 456))
}

func TestPermissioner_UpdateForUserReplaces(t *testing.T) {
	p := NewPermissioner()
	p.InitForUser(1, Permissions{}, map[uint32]StreamPermissions{10: {Poll: true}})
	require := assert.New(t)
	require.True(p.CanPoll(1, 10))

	p.UpdateForUser(1, Permissions{}, map[uint32]StreamPermissions{20: {Send: true}})
	require.False(p.CanPoll(1, 10))
	require.True(p.CanSend(1, 20))
}

func TestPermissioner_DeleteForUserClearsEveryIndex(t *testing.T) {
	p := NewPermissioner()
	p.InitForUser(1, Permissions{PollAllStreams: true, SendAllStreams: true}, map[uint32]StreamPermissions{10: {Poll: true, Send: true}})

	p.DeleteForUser(1)

	assert.False(t, p.CanPoll(1, 10))
	assert.False(t, p.CanSend(1, 10))
	assert.False(t, p.CanManageServers(1))
}

func TestPermissioner_CanManageUsers(t *testing.T) {
	p := NewPermissioner()
	p.InitForUser(1, Permissions{ManageUsers: true}, nil)
	p.InitForUser(2, Permissions{}, nil)

	assert.True(t, p.CanManageUsers(1))
	assert.False(t, p.CanManageUsers(2))
}
