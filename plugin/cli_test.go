package plugin

import (
	"path/filepath"
	"testing"

	"originchats/models"
	"originchats/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	sent         []string
	disconnected []string
}

func (h *fakeHost) SendToChannel(channel, content string) {
	h.sent = append(h.sent, content)
}

func (h *fakeHost) DisconnectUser(username, reason string) {
	h.disconnected = append(h.disconnected, username)
}

func newCLIFixture(t *testing.T) (*store.Store, *fakeHost, *ServerCLI) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "cli.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, &fakeHost{}, NewServerCLI()
}

func admin(cli *ServerCLI, host *fakeHost, st *store.Store, content string) {
	cli.OnMessage(host, st, "root", []string{"admin"}, "general", content)
}

func TestCLIIgnoresOrdinaryMessages(t *testing.T) {
	st, host, cli := newCLIFixture(t)

	admin(cli, host, st, "hello everyone")
	admin(cli, host, st, "!serverish nonsense")

	assert.Empty(t, host.sent)
	assert.Empty(t, host.disconnected)
}

func TestCLIBanFlow(t *testing.T) {
	st, host, cli := newCLIFixture(t)
	require.NoError(t, st.PutUser(models.User{Username: "troll", Roles: []string{"member"}}))

	admin(cli, host, st, "!server ban troll")

	banned, err := st.ListBanned()
	require.NoError(t, err)
	assert.Equal(t, []string{"troll"}, banned)
	assert.Equal(t, []string{"troll"}, host.disconnected)
	require.Len(t, host.sent, 1)
	assert.Contains(t, host.sent[0], "banned")

	admin(cli, host, st, "!server list_banned")
	assert.Contains(t, host.sent[1], "troll")

	admin(cli, host, st, "!server unban troll")
	banned, err = st.ListBanned()
	require.NoError(t, err)
	assert.Empty(t, banned)
}

func TestCLIBanUnknownUser(t *testing.T) {
	st, host, cli := newCLIFixture(t)

	admin(cli, host, st, "!server ban nobody")

	require.Len(t, host.sent, 1)
	assert.Contains(t, host.sent[0], "Failed")
	assert.Empty(t, host.disconnected)
}

func TestCLIRoleManagement(t *testing.T) {
	st, host, cli := newCLIFixture(t)
	require.NoError(t, st.PutUser(models.User{Username: "alice", Roles: []string{"member"}}))
	require.NoError(t, st.PutRole(models.Role{Name: "mod", Color: "#ff0000"}))

	admin(cli, host, st, "!server give_role alice mod")
	user, err := st.GetUser("alice")
	require.NoError(t, err)
	assert.Contains(t, user.Roles, "mod")

	admin(cli, host, st, "!server list_roles")
	assert.Contains(t, host.sent[1], "mod")

	admin(cli, host, st, "!server remove_role alice mod")
	user, err = st.GetUser("alice")
	require.NoError(t, err)
	assert.NotContains(t, user.Roles, "mod")
}

func TestCLIChannelManagement(t *testing.T) {
	st, host, cli := newCLIFixture(t)

	admin(cli, host, st, "!server create_channel lounge text")
	ch, err := st.GetChannel("lounge")
	require.NoError(t, err)
	assert.Equal(t, "text", ch.Type)

	// duplicate names are refused
	admin(cli, host, st, "!server create_channel lounge text")
	assert.Contains(t, host.sent[1], "already exist")

	admin(cli, host, st, "!server create_channel lounge2 voice")
	assert.Contains(t, host.sent[2], "Invalid channel type")

	admin(cli, host, st, "!server list_channels")
	assert.Contains(t, host.sent[3], "lounge")

	admin(cli, host, st, "!server delete_channel lounge")
	_, err = st.GetChannel("lounge")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCLIMessagePurge(t *testing.T) {
	st, host, cli := newCLIFixture(t)
	require.NoError(t, st.PutChannel(models.Channel{Name: "general", Type: "text"}))
	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		require.NoError(t, st.AppendMessage("general", models.Message{ID: id, User: "alice", Content: id}))
	}

	admin(cli, host, st, "!server message_purge 3")

	count, err := st.MessageCount("general")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	remaining, err := st.ListMessages("general", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "m1", remaining[0].ID)

	admin(cli, host, st, "!server message_purge zero")
	assert.Contains(t, host.sent[1], "greater than 0")
}

func TestCLIListUsers(t *testing.T) {
	st, host, cli := newCLIFixture(t)

	admin(cli, host, st, "!server list_users")
	assert.Equal(t, "No users found.", host.sent[0])

	require.NoError(t, st.PutUser(models.User{Username: "alice", Roles: []string{"member", "mod"}}))
	admin(cli, host, st, "!server list_users")
	assert.Contains(t, host.sent[1], "alice (Roles: member, mod)")
}

func TestCLIRoleLifecycle(t *testing.T) {
	st, host, cli := newCLIFixture(t)

	admin(cli, host, st, "!server create_role mod")
	role, err := st.GetRole("mod")
	require.NoError(t, err)
	assert.Empty(t, role.Color)

	admin(cli, host, st, "!server create_role mod")
	assert.Contains(t, host.sent[1], "already exist")

	admin(cli, host, st, "!server update_role_color mod #ff0000")
	role, err = st.GetRole("mod")
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", role.Color)

	admin(cli, host, st, "!server update_role_color ghost #000000")
	assert.Contains(t, host.sent[3], "may not exist")

	admin(cli, host, st, "!server delete_role mod")
	_, err = st.GetRole("mod")
	assert.ErrorIs(t, err, store.ErrNotFound)

	admin(cli, host, st, "!server delete_role mod")
	assert.Contains(t, host.sent[5], "may not exist")
}

func TestCLIReorderChannel(t *testing.T) {
	st, host, cli := newCLIFixture(t)
	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, st.PutChannel(models.Channel{Name: name, Type: "text"}))
	}

	admin(cli, host, st, "!server reorder_channel third 0")
	channels, err := st.ListChannels()
	require.NoError(t, err)
	assert.Equal(t, "third", channels[0].Name)

	admin(cli, host, st, "!server reorder_channel missing 0")
	assert.Contains(t, host.sent[1], "Failed to reorder")

	admin(cli, host, st, "!server reorder_channel first top")
	assert.Contains(t, host.sent[2], "Usage:")
}

func TestCLIGetChannel(t *testing.T) {
	st, host, cli := newCLIFixture(t)
	require.NoError(t, st.PutChannel(models.Channel{
		Name: "general", Type: "text",
		Permissions: map[string][]string{"view": {"member"}},
	}))

	admin(cli, host, st, "!server get_channel general")
	assert.Contains(t, host.sent[0], "Channel 'general' (Type: text)")
	assert.Contains(t, host.sent[0], "view: member")

	admin(cli, host, st, "!server get_channel missing")
	assert.Contains(t, host.sent[1], "not found")
}

func TestCLIChannelPermissions(t *testing.T) {
	st, host, cli := newCLIFixture(t)
	require.NoError(t, st.PutChannel(models.Channel{Name: "general", Type: "text"}))

	admin(cli, host, st, "!server add_channel_permission general member send")
	allowed, err := st.HasPermission("general", []string{"member"}, "send")
	require.NoError(t, err)
	assert.True(t, allowed)

	admin(cli, host, st, "!server get_channel_permissions general")
	assert.Contains(t, host.sent[1], "send: member")

	admin(cli, host, st, "!server rem_channel_permission general member send")
	allowed, err = st.HasPermission("general", []string{"member"}, "send")
	require.NoError(t, err)
	assert.False(t, allowed)

	admin(cli, host, st, "!server get_channel_permissions general")
	assert.Contains(t, host.sent[3], "no permissions set")

	admin(cli, host, st, "!server add_channel_permission missing member send")
	assert.Contains(t, host.sent[4], "Failed to set")

	admin(cli, host, st, "!server add_channel_permission general member")
	assert.Contains(t, host.sent[5], "Usage:")
}

func TestCLIHelpAndUnknown(t *testing.T) {
	st, host, cli := newCLIFixture(t)

	admin(cli, host, st, "!server help")
	assert.Contains(t, host.sent[0], "ban <username>")
	assert.Contains(t, host.sent[0], "create_role <role>")
	assert.Contains(t, host.sent[0], "reorder_channel <name> <position>")

	admin(cli, host, st, "!server frobnicate")
	assert.Contains(t, host.sent[1], "Unknown command")
}

func TestManagerRoleGating(t *testing.T) {
	st, host, cli := newCLIFixture(t)
	m := NewManager(cli)

	m.HandleMessage(host, st, "alice", []string{"member"}, "general", "!server help")
	assert.Empty(t, host.sent)

	m.HandleMessage(host, st, "root", []string{"owner"}, "general", "!server help")
	assert.Len(t, host.sent, 1)
}
