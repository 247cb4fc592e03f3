package chanops

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) DataStore {
	t.Helper()
	ctx := context.Background()
	db, err := CreateDB(
		ctx, dbTypeSQLite, filepath.Join(t.TempDir(), "chanops.sqlite3"),
	)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
		},
	)
	return NewDataStore(db, newTestLogger(t), false)
}

func TestStoreGuildRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	missing, err := store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	guild := NewGuildData()
	plugin, err := NewChannelPlugin(PluginRules)
	require.NoError(t, err)
	plugin.(*RulesPlugin).Rules = []Rule{
		{Name: RuleOneWordMax, Builtin: true},
	}
	require.NoError(t, guild.EnsureChannel("channel-1").AddPlugin(plugin))
	require.NoError(t, store.SaveGuildData(ctx, "guild-1", guild))

	loaded, err := store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	rules := loaded.Channel("channel-1").RulesPlugin()
	require.NotNil(t, rules)
	assert.True(t, rules.HasRule(RuleOneWordMax))

	// saving again overwrites the whole record
	guild.EnsureChannel("channel-2")
	require.NoError(t, store.SaveGuildData(ctx, "guild-1", guild))
	loaded, err = store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	assert.Len(t, loaded.Channels, 2)
}

func TestStoreUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	missing, err := store.UserData(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	user := NewUserData()
	user.MessageCount = 7
	user.Alarms = []Alarm{{Message: "hi", Started: 1, Date: 2}}
	require.NoError(t, store.SaveUserData(ctx, "user-1", user))

	loaded, err := store.UserData(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 7, loaded.MessageCount)
	require.Len(t, loaded.Alarms, 1)
	assert.Equal(t, int64(2), loaded.Alarms[0].Date)
}

func TestStoreEachUser(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveUserData(ctx, "user-1", NewUserData()))
	require.NoError(t, store.SaveUserData(ctx, "user-2", NewUserData()))
	// guild records must not be visited
	require.NoError(t, store.SaveGuildData(ctx, "guild-1", NewGuildData()))

	visited := map[string]bool{}
	err := store.EachUser(
		ctx, func(userID string, u *UserData) error {
			require.NotNil(t, u)
			visited[userID] = true
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"user-1": true, "user-2": true}, visited)
}

func TestStoreAdminTokenHash(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	hash, err := store.AdminTokenHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, hash)

	require.NoError(t, store.SetAdminTokenHash(ctx, "argon2id$stub"))
	hash, err = store.AdminTokenHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "argon2id$stub", hash)
}
