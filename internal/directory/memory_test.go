package directory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

func TestMemoryDirectory_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory()
	d.AddStore("pool-new", model.MFAConfigurationOn)

	err := d.CreateUser(ctx, "pool-new", "alice", map[string]string{"email": "alice@example.com"}, "Temp#1234abcd")
	require.NoError(t, err)

	err = d.CreateUser(ctx, "pool-new", "alice", nil, "x")
	assert.ErrorIs(t, err, ErrUserExists)

	user, err := d.GetUser(ctx, "pool-new", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Attr("email"))
	assert.True(t, user.Enabled)

	// returned users are copies
	user.Attributes["email"] = "changed"
	again, _ := d.GetUser(ctx, "pool-new", "alice")
	assert.Equal(t, "alice@example.com", again.Attr("email"))

	require.NoError(t, d.SetPermanentCredential(ctx, "pool-new", "alice", "Perm#1234abcd"))
	cred, permanent := d.Credential("pool-new", "alice")
	assert.Equal(t, "Perm#1234abcd", cred)
	assert.True(t, permanent)
}

func TestMemoryDirectory_NotFound(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory()
	d.AddStore("pool-legacy", model.MFAConfigurationOptional)

	_, err := d.GetUser(ctx, "pool-legacy", "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = d.GetUser(ctx, "missing", "ghost")
	assert.ErrorIs(t, err, ErrStoreNotFound)

	assert.ErrorIs(t, d.DeleteUser(ctx, "pool-legacy", "ghost"), ErrUserNotFound)
}

func TestMemoryDirectory_ListUsersPaginates(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory()
	d.AddStore("pool-legacy", model.MFAConfigurationOptional)
	d.SetPageSize(2)
	for i := 0; i < 5; i++ {
		d.SeedUser("pool-legacy", &User{Username: fmt.Sprintf("user-%d", i), Enabled: true})
	}

	var names []string
	token := ""
	pages := 0
	for {
		page, err := d.ListUsers(ctx, "pool-legacy", token)
		require.NoError(t, err)
		pages++
		for _, u := range page.Users {
			names = append(names, u.Username)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"user-0", "user-1", "user-2", "user-3", "user-4"}, names)
}

func TestMemoryDirectory_FailureInjection(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory()
	d.AddStore("pool-new", model.MFAConfigurationOn)
	d.SeedUser("pool-new", &User{Username: "bob", Enabled: true})

	boom := errors.New("boom")
	d.FailOn(OpAddUserToGroup, "pool-new", "bob/admins", boom)

	assert.ErrorIs(t, d.AddUserToGroup(ctx, "pool-new", "bob", "admins"), boom)
	assert.NoError(t, d.AddUserToGroup(ctx, "pool-new", "bob", "staff"))
	assert.Equal(t, 2, d.Calls(OpAddUserToGroup))

	groups, err := d.ListGroupsForUser(ctx, "pool-new", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"staff"}, groups)

	d.FailOn(OpGetUser, "pool-new", "", boom)
	_, err = d.GetUser(ctx, "pool-new", "bob")
	assert.ErrorIs(t, err, boom)

	d.ClearFailures()
	_, err = d.GetUser(ctx, "pool-new", "bob")
	assert.NoError(t, err)
}
