package plugin

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"originchats/models"
	"originchats/store"
)

// ServerCLI implements the in-chat `!server ...` management commands for
// owners and admins.
type ServerCLI struct{}

func NewServerCLI() *ServerCLI { return &ServerCLI{} }

func (p *ServerCLI) Name() string { return "server-cli" }

func (p *ServerCLI) AllowedRoles() []string { return []string{"owner", "admin"} }

func (p *ServerCLI) OnMessage(host Host, st *store.Store, username string, roles []string, channel, content string) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "!server ") {
		return
	}

	parts := strings.Fields(content)
	if len(parts) < 2 {
		return
	}

	switch parts[1] {
	case "ban":
		if len(parts) < 3 {
			host.SendToChannel(channel, "Usage: !server ban <username>")
			return
		}
		target := parts[2]
		if err := st.SetBanned(target, true); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to ban user %s.", target))
			return
		}
		host.DisconnectUser(target, "You have been banned from this server")
		host.SendToChannel(channel, fmt.Sprintf("User %s has been banned.", target))

	case "unban":
		if len(parts) < 3 {
			host.SendToChannel(channel, "Usage: !server unban <username>")
			return
		}
		target := parts[2]
		if err := st.SetBanned(target, false); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to unban user %s.", target))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("User %s has been unbanned.", target))

	case "list_users":
		all, err := st.ListUsers()
		if err != nil {
			log.Printf("CLI plugin: list users: %v", err)
			return
		}
		if len(all) == 0 {
			host.SendToChannel(channel, "No users found.")
			return
		}
		var items []string
		for _, user := range all {
			items = append(items, fmt.Sprintf("%s (Roles: %s)", user.Username, strings.Join(user.Roles, ", ")))
		}
		host.SendToChannel(channel, "Users: "+strings.Join(items, ", "))

	case "list_banned":
		banned, err := st.ListBanned()
		if err != nil {
			log.Printf("CLI plugin: list banned: %v", err)
			return
		}
		if len(banned) == 0 {
			host.SendToChannel(channel, "No users are currently banned.")
			return
		}
		host.SendToChannel(channel, "Banned users: "+strings.Join(banned, ", "))

	case "give_role":
		if len(parts) < 4 {
			host.SendToChannel(channel, "Usage: !server give_role <username> <role_name>")
			return
		}
		target, role := parts[2], parts[3]
		if err := st.AddUserRole(target, role); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to give role '%s' to user '%s'.", role, target))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("Role '%s' given to user '%s'.", role, target))

	case "remove_role":
		if len(parts) < 4 {
			host.SendToChannel(channel, "Usage: !server remove_role <username> <role_name>")
			return
		}
		target, role := parts[2], parts[3]
		if err := st.RemoveUserRole(target, role); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to remove role '%s' from user '%s'.", role, target))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("Role '%s' removed from user '%s'.", role, target))

	case "create_role":
		if len(parts) < 3 {
			host.SendToChannel(channel, "Usage: !server create_role <role_name>")
			return
		}
		name := parts[2]
		if _, err := st.GetRole(name); err == nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to create role '%s'. It may already exist.", name))
			return
		}
		if err := st.PutRole(models.Role{Name: name}); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to create role '%s'.", name))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("Role '%s' created.", name))

	case "delete_role":
		if len(parts) < 3 {
			host.SendToChannel(channel, "Usage: !server delete_role <role_name>")
			return
		}
		name := parts[2]
		if err := st.DeleteRole(name); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to delete role '%s'. It may not exist.", name))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("Role '%s' deleted.", name))

	case "update_role_color":
		if len(parts) < 4 {
			host.SendToChannel(channel, "Usage: !server update_role_color <role_name> <new_color>")
			return
		}
		name, color := parts[2], parts[3]
		role, err := st.GetRole(name)
		if err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to update role '%s'. It may not exist.", name))
			return
		}
		role.Color = color
		if err := st.PutRole(role); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to update role '%s'.", name))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("Role '%s' updated with new color '%s'.", name, color))

	case "list_roles":
		all, err := st.ListRoles()
		if err != nil {
			log.Printf("CLI plugin: list roles: %v", err)
			return
		}
		if len(all) == 0 {
			host.SendToChannel(channel, "No roles found.")
			return
		}
		var items []string
		for _, role := range all {
			items = append(items, fmt.Sprintf("%s (Color: %s)", role.Name, role.Color))
		}
		host.SendToChannel(channel, "Roles: "+strings.Join(items, ", "))

	case "create_channel":
		if len(parts) < 4 {
			host.SendToChannel(channel, "Usage: !server create_channel <channel_name> <channel_type>")
			return
		}
		name, chType := parts[2], strings.ToLower(parts[3])
		if chType != "text" && chType != "separator" {
			host.SendToChannel(channel, "Invalid channel type. Use 'text' or 'separator'.")
			return
		}
		if _, err := st.GetChannel(name); err == nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to create channel '%s'. It may already exist.", name))
			return
		}
		if err := st.PutChannel(models.Channel{Name: name, Type: chType}); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to create channel '%s'.", name))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("Channel '%s' of type '%s' created.", name, chType))

	case "delete_channel":
		if len(parts) < 3 {
			host.SendToChannel(channel, "Usage: !server delete_channel <channel_name>")
			return
		}
		name := parts[2]
		if err := st.DeleteChannel(name); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to delete channel '%s'. It may not exist.", name))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("Channel '%s' deleted.", name))

	case "reorder_channel":
		if len(parts) < 4 {
			host.SendToChannel(channel, "Usage: !server reorder_channel <channel_name> <new_position>")
			return
		}
		name := parts[2]
		position, err := strconv.Atoi(parts[3])
		if err != nil {
			host.SendToChannel(channel, "Usage: !server reorder_channel <channel_name> <new_position>")
			return
		}
		if err := st.ReorderChannel(name, position); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to reorder channel '%s'. It may not exist or the position is invalid.", name))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("Channel '%s' reordered to position '%d'.", name, position))

	case "get_channel":
		if len(parts) < 3 {
			host.SendToChannel(channel, "Usage: !server get_channel <channel_name>")
			return
		}
		name := parts[2]
		ch, err := st.GetChannel(name)
		if err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Channel '%s' not found.", name))
			return
		}
		details := fmt.Sprintf("Channel '%s' (Type: %s)", ch.Name, ch.Type)
		if len(ch.Permissions) > 0 {
			details += " | Permissions: " + formatPermissions(ch.Permissions)
		}
		host.SendToChannel(channel, details)

	case "add_channel_permission":
		if len(parts) < 5 {
			host.SendToChannel(channel, "Usage: !server add_channel_permission <channel_name> <role> <permission>")
			return
		}
		name, role, capability := parts[2], parts[3], parts[4]
		if err := st.SetChannelPermission(name, capability, role, true); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to set permissions for role '%s' on channel '%s'. Channel may not exist.", role, name))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("Permissions for role '%s' on channel '%s' updated.", role, name))

	case "rem_channel_permission":
		if len(parts) < 5 {
			host.SendToChannel(channel, "Usage: !server rem_channel_permission <channel_name> <role> <permission>")
			return
		}
		name, role, capability := parts[2], parts[3], parts[4]
		if err := st.SetChannelPermission(name, capability, role, false); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to remove permissions for role '%s' on channel '%s'. Channel may not exist.", role, name))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("Permissions for role '%s' on channel '%s' removed.", role, name))

	case "get_channel_permissions":
		if len(parts) < 3 {
			host.SendToChannel(channel, "Usage: !server get_channel_permissions <channel_name>")
			return
		}
		name := parts[2]
		ch, err := st.GetChannel(name)
		if err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to get permissions for channel '%s'. It may not exist.", name))
			return
		}
		if len(ch.Permissions) == 0 {
			host.SendToChannel(channel, fmt.Sprintf("Channel '%s' has no permissions set.", name))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("Permissions for channel '%s': %s", name, formatPermissions(ch.Permissions)))

	case "list_channels":
		all, err := st.ListChannels()
		if err != nil {
			log.Printf("CLI plugin: list channels: %v", err)
			return
		}
		if len(all) == 0 {
			host.SendToChannel(channel, "No channels found.")
			return
		}
		var items []string
		for _, ch := range all {
			items = append(items, fmt.Sprintf("%s (Type: %s)", ch.Name, ch.Type))
		}
		host.SendToChannel(channel, "Channels: "+strings.Join(items, ", "))

	case "message_purge":
		if len(parts) < 3 {
			host.SendToChannel(channel, "Usage: !server message_purge <number>")
			return
		}
		n, err := strconv.Atoi(parts[2])
		if err != nil || n <= 0 {
			host.SendToChannel(channel, "Number must be greater than 0.")
			return
		}
		if err := st.PurgeMessages(channel, n); err != nil {
			host.SendToChannel(channel, fmt.Sprintf("Failed to purge messages from channel '%s'.", channel))
			return
		}
		host.SendToChannel(channel, fmt.Sprintf("Purged the last %d messages from channel '%s'.", n, channel))

	case "help":
		host.SendToChannel(channel,
			"!server ban <username> | unban <username> | list_banned | list_users | "+
				"create_role <role> | delete_role <role> | update_role_color <role> <color> | "+
				"give_role <username> <role> | remove_role <username> <role> | list_roles | "+
				"create_channel <name> <type> | delete_channel <name> | reorder_channel <name> <position> | "+
				"get_channel <name> | list_channels | "+
				"add_channel_permission <name> <role> <permission> | "+
				"rem_channel_permission <name> <role> <permission> | get_channel_permissions <name> | "+
				"message_purge <number>")

	default:
		host.SendToChannel(channel, "Unknown command. Use !server help for a list of commands.")
	}
}

// formatPermissions renders a permission table as "capability: role, role"
// pairs in stable order.
func formatPermissions(permissions map[string][]string) string {
	capabilities := make([]string, 0, len(permissions))
	for capability := range permissions {
		capabilities = append(capabilities, capability)
	}
	sort.Strings(capabilities)

	var items []string
	for _, capability := range capabilities {
		items = append(items, capability+": "+strings.Join(permissions[capability], ", "))
	}
	return strings.Join(items, " | ")
}
