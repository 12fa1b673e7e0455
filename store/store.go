package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"originchats/models"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound reports an absent record. Callers treat it as a normal outcome,
// not a fault.
var ErrNotFound = errors.New("record not found")

// Store is the durable record store for users, roles, channels and messages.
// It is safe for concurrent use; puts are idempotent.
type Store struct {
	conn *sql.DB
	path string
}

func New(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	st := &Store{conn: conn, path: path}
	if err := st.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return st, nil
}

// Path returns the location of the backing database file. Administrative
// tools write to the same file; the watcher observes it.
func (st *Store) Path() string {
	return st.path
}

func (st *Store) Close() error {
	return st.conn.Close()
}

func (st *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			roles TEXT NOT NULL DEFAULT '[]',
			banned INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS roles (
			name TEXT PRIMARY KEY,
			color TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			name TEXT PRIMARY KEY,
			type TEXT NOT NULL DEFAULT 'text',
			description TEXT NOT NULL DEFAULT '',
			wallpaper TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0,
			permissions TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT NOT NULL,
			channel TEXT NOT NULL,
			user TEXT NOT NULL,
			content TEXT NOT NULL,
			ts REAL NOT NULL,
			type TEXT NOT NULL DEFAULT 'message',
			pinned INTEGER NOT NULL DEFAULT 0,
			UNIQUE(channel, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel)`,
	}

	for _, query := range queries {
		if _, err := st.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// --- users ---

func (st *Store) GetUser(username string) (models.User, error) {
	var user models.User
	var rolesJSON string
	var banned int

	row := st.conn.QueryRow("SELECT username, roles, banned FROM users WHERE username = ?", username)
	if err := row.Scan(&user.Username, &rolesJSON, &banned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, err
	}

	if err := json.Unmarshal([]byte(rolesJSON), &user.Roles); err != nil {
		return models.User{}, fmt.Errorf("user %s: decode roles: %w", username, err)
	}
	user.Banned = banned != 0

	return user, nil
}

func (st *Store) UserExists(username string) (bool, error) {
	var count int
	err := st.conn.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (st *Store) PutUser(user models.User) error {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return err
	}

	banned := 0
	if user.Banned {
		banned = 1
	}

	_, err = st.conn.Exec(
		"INSERT OR REPLACE INTO users (username, roles, banned) VALUES (?, ?, ?)",
		user.Username, string(rolesJSON), banned)
	return err
}

func (st *Store) DeleteUser(username string) error {
	res, err := st.conn.Exec("DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (st *Store) ListUsers() ([]models.User, error) {
	rows, err := st.conn.Query("SELECT username, roles, banned FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		var rolesJSON string
		var banned int
		if err := rows.Scan(&user.Username, &rolesJSON, &banned); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rolesJSON), &user.Roles); err != nil {
			return nil, fmt.Errorf("user %s: decode roles: %w", user.Username, err)
		}
		user.Banned = banned != 0
		users = append(users, user)
	}

	return users, rows.Err()
}

// SetBanned flips a user's ban flag.
func (st *Store) SetBanned(username string, banned bool) error {
	flag := 0
	if banned {
		flag = 1
	}
	res, err := st.conn.Exec("UPDATE users SET banned = ? WHERE username = ?", flag, username)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (st *Store) ListBanned() ([]string, error) {
	rows, err := st.conn.Query("SELECT username FROM users WHERE banned = 1 ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var banned []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		banned = append(banned, username)
	}

	return banned, rows.Err()
}

// AddUserRole appends a role to a user's role list if not already present.
func (st *Store) AddUserRole(username, role string) error {
	user, err := st.GetUser(username)
	if err != nil {
		return err
	}
	for _, r := range user.Roles {
		if r == role {
			return nil
		}
	}
	user.Roles = append(user.Roles, role)
	return st.PutUser(user)
}

func (st *Store) RemoveUserRole(username, role string) error {
	user, err := st.GetUser(username)
	if err != nil {
		return err
	}
	roles := user.Roles[:0]
	for _, r := range user.Roles {
		if r != role {
			roles = append(roles, r)
		}
	}
	user.Roles = roles
	return st.PutUser(user)
}

// --- roles ---

func (st *Store) GetRole(name string) (models.Role, error) {
	var role models.Role
	row := st.conn.QueryRow("SELECT name, color, position FROM roles WHERE name = ?", name)
	if err := row.Scan(&role.Name, &role.Color, &role.Position); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Role{}, ErrNotFound
		}
		return models.Role{}, err
	}
	return role, nil
}

func (st *Store) PutRole(role models.Role) error {
	_, err := st.conn.Exec(
		"INSERT OR REPLACE INTO roles (name, color, position) VALUES (?, ?, ?)",
		role.Name, role.Color, role.Position)
	return err
}

func (st *Store) DeleteRole(name string) error {
	res, err := st.conn.Exec("DELETE FROM roles WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (st *Store) ListRoles() ([]models.Role, error) {
	rows, err := st.conn.Query("SELECT name, color, position FROM roles ORDER BY position, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []models.Role
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role.Name, &role.Color, &role.Position); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// --- channels ---

func (st *Store) GetChannel(name string) (models.Channel, error) {
	var ch models.Channel
	var permsJSON string
	var position int

	row := st.conn.QueryRow(
		"SELECT name, type, description, wallpaper, position, permissions FROM channels WHERE name = ?", name)
	if err := row.Scan(&ch.Name, &ch.Type, &ch.Description, &ch.Wallpaper, &position, &permsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Channel{}, ErrNotFound
		}
		return models.Channel{}, err
	}

	if err := json.Unmarshal([]byte(permsJSON), &ch.Permissions); err != nil {
		return models.Channel{}, fmt.Errorf("channel %s: decode permissions: %w", name, err)
	}

	return ch, nil
}

// PutChannel inserts or replaces a channel. New channels are appended at the
// end of the directory order; existing channels keep their position.
func (st *Store) PutChannel(ch models.Channel) error {
	perms := ch.Permissions
	if perms == nil {
		perms = map[string][]string{}
	}
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return err
	}

	var position int
	err = st.conn.QueryRow("SELECT position FROM channels WHERE name = ?", ch.Name).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		if err := st.conn.QueryRow("SELECT COALESCE(MAX(position), -1) + 1 FROM channels").Scan(&position); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	_, err = st.conn.Exec(
		`INSERT OR REPLACE INTO channels (name, type, description, wallpaper, position, permissions)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ch.Name, ch.Type, ch.Description, ch.Wallpaper, position, string(permsJSON))
	return err
}

func (st *Store) DeleteChannel(name string) error {
	res, err := st.conn.Exec("DELETE FROM channels WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = st.conn.Exec("DELETE FROM messages WHERE channel = ?", name)
	return err
}

// ReorderChannel moves a channel to the given directory position.
func (st *Store) ReorderChannel(name string, position int) error {
	channels, err := st.ListChannels()
	if err != nil {
		return err
	}

	idx := -1
	for i, ch := range channels {
		if ch.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrNotFound
	}
	if position < 0 {
		position = 0
	}
	if position >= len(channels) {
		position = len(channels) - 1
	}

	moved := channels[idx]
	channels = append(channels[:idx], channels[idx+1:]...)
	channels = append(channels[:position], append([]models.Channel{moved}, channels[position:]...)...)

	tx, err := st.conn.Begin()
	if err != nil {
		return err
	}
	for i, ch := range channels {
		if _, err := tx.Exec("UPDATE channels SET position = ? WHERE name = ?", i, ch.Name); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (st *Store) ListChannels() ([]models.Channel, error) {
	rows, err := st.conn.Query(
		"SELECT name, type, description, wallpaper, permissions FROM channels ORDER BY position, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var ch models.Channel
		var permsJSON string
		if err := rows.Scan(&ch.Name, &ch.Type, &ch.Description, &ch.Wallpaper, &permsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(permsJSON), &ch.Permissions); err != nil {
			return nil, fmt.Errorf("channel %s: decode permissions: %w", ch.Name, err)
		}
		channels = append(channels, ch)
	}

	return channels, rows.Err()
}

// SetChannelPermission grants or revokes one role for one capability.
func (st *Store) SetChannelPermission(channel, capability, role string, allowed bool) error {
	ch, err := st.GetChannel(channel)
	if err != nil {
		return err
	}

	if ch.Permissions == nil {
		ch.Permissions = map[string][]string{}
	}
	roles := ch.Permissions[capability]

	if allowed {
		for _, r := range roles {
			if r == role {
				return nil
			}
		}
		ch.Permissions[capability] = append(roles, role)
	} else {
		kept := roles[:0]
		for _, r := range roles {
			if r != role {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(ch.Permissions, capability)
		} else {
			ch.Permissions[capability] = kept
		}
	}

	return st.PutChannel(ch)
}

// HasCapability reports whether a role set may use a capability under the
// given permission table: true iff the capability's role set intersects the
// user's roles.
func HasCapability(permissions map[string][]string, roles []string, capability string) bool {
	allowed := permissions[capability]
	for _, role := range roles {
		for _, a := range allowed {
			if role == a {
				return true
			}
		}
	}
	return false
}

// HasPermission checks a capability against a named channel's permission
// table. Unknown channels have no capabilities.
func (st *Store) HasPermission(channel string, roles []string, capability string) (bool, error) {
	ch, err := st.GetChannel(channel)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return HasCapability(ch.Permissions, roles, capability), nil
}

// VisibleChannels filters the channel directory down to the channels whose
// "view" capability intersects the given roles, preserving directory order.
func (st *Store) VisibleChannels(roles []string) ([]models.Channel, error) {
	channels, err := st.ListChannels()
	if err != nil {
		return nil, err
	}

	var visible []models.Channel
	for _, ch := range channels {
		if HasCapability(ch.Permissions, roles, "view") {
			visible = append(visible, ch)
		}
	}

	return visible, nil
}

// --- messages ---

func (st *Store) AppendMessage(channel string, m models.Message) error {
	pinned := 0
	if m.Pinned {
		pinned = 1
	}
	_, err := st.conn.Exec(
		"INSERT INTO messages (id, channel, user, content, ts, type, pinned) VALUES (?, ?, ?, ?, ?, ?, ?)",
		m.ID, channel, m.User, m.Content, m.Timestamp, m.Type, pinned)
	return err
}

func (st *Store) GetMessage(channel, id string) (models.Message, error) {
	var m models.Message
	var pinned int

	row := st.conn.QueryRow(
		"SELECT id, user, content, ts, type, pinned FROM messages WHERE channel = ? AND id = ?", channel, id)
	if err := row.Scan(&m.ID, &m.User, &m.Content, &m.Timestamp, &m.Type, &pinned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Message{}, ErrNotFound
		}
		return models.Message{}, err
	}
	m.Pinned = pinned != 0

	return m, nil
}

func (st *Store) EditMessage(channel, id, content string) error {
	res, err := st.conn.Exec(
		"UPDATE messages SET content = ? WHERE channel = ? AND id = ?", content, channel, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (st *Store) DeleteMessage(channel, id string) error {
	res, err := st.conn.Exec("DELETE FROM messages WHERE channel = ? AND id = ?", channel, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages returns the most recently appended `limit` messages of a
// channel in their original append order.
func (st *Store) ListMessages(channel string, limit int) ([]models.Message, error) {
	rows, err := st.conn.Query(
		`SELECT id, user, content, ts, type, pinned FROM (
			SELECT rowid AS rid, id, user, content, ts, type, pinned
			FROM messages WHERE channel = ? ORDER BY rid DESC LIMIT ?
		) ORDER BY rid ASC`,
		channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var pinned int
		if err := rows.Scan(&m.ID, &m.User, &m.Content, &m.Timestamp, &m.Type, &pinned); err != nil {
			return nil, err
		}
		m.Pinned = pinned != 0
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// PurgeMessages removes the last n messages of a channel.
func (st *Store) PurgeMessages(channel string, n int) error {
	_, err := st.conn.Exec(
		`DELETE FROM messages WHERE channel = ? AND rowid IN (
			SELECT rowid FROM messages WHERE channel = ? ORDER BY rowid DESC LIMIT ?
		)`,
		channel, channel, n)
	return err
}

// MessageCount returns the number of stored messages in a channel.
func (st *Store) MessageCount(channel string) (int, error) {
	var count int
	err := st.conn.QueryRow("SELECT COUNT(*) FROM messages WHERE channel = ?", channel).Scan(&count)
	return count, err
}
