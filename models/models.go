package models

// User is a durable directory entry keyed by username.
type User struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Banned   bool     `json:"banned,omitempty"`
}

// Role carries a display color; users and channel permission tables reference
// roles by name only, never by value.
type Role struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	Position int    `json:"position"`
}

// Channel is one entry of the ordered channel directory. Permissions maps a
// capability name ("view", "send", "delete_others", ...) to the role names
// allowed to use it.
type Channel struct {
	Name        string              `json:"name"`
	Type        string              `json:"type"` // "text" or "separator"
	Description string              `json:"description,omitempty"`
	Wallpaper   string              `json:"wallpaper,omitempty"`
	Permissions map[string][]string `json:"permissions,omitempty"`
}

// Message is one stored channel message. Timestamp is unix seconds with a
// fractional part, matching the wire format clients expect.
type Message struct {
	ID        string  `json:"id"`
	User      string  `json:"user"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
	Type      string  `json:"type"`
	Pinned    bool    `json:"pinned"`
}

// UserChanges is the structural diff broadcast when the user directory is
// edited outside the live protocol.
type UserChanges struct {
	Added    map[string]User `json:"added"`
	Modified map[string]User `json:"modified"`
	Deleted  []string        `json:"deleted"`
}

// Empty reports whether the diff carries no changes at all.
func (c UserChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}
