/*
Package hub is the presence, authorization and broadcast core of the chat server.

It tracks which connections exist, the room and role of each, decides who may
remove or promote whom, and fans events out to one room or to every client.
The websocket transport (Client) and the HTTP handlers are thin layers on top.
*/
package hub

import (
	"fmt"
	"strings"

	"chathub/internal/app/session"
)

// Role is the closed set of roles a connection can hold.
type Role uint8

const (
	RoleMember Role = iota
	RoleAdmin
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "Admin"
	case RoleMember:
		return "Member"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RoleAdmin, RoleMember:
		return []byte(r.String()), nil
	}
	return nil, fmt.Errorf("hub: invalid role %d", uint8(r))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// ParseRole converts a wire name back to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "Admin":
		return RoleAdmin, nil
	case "Member":
		return RoleMember, nil
	}
	return RoleMember, fmt.Errorf("hub: unknown role %q", s)
}

// AdminUserName is the display name that is always granted Admin on join.
const AdminUserName = "admin"

// joinRole applies the join-time rule: Admin on an empty registry or for the
// name "admin" in any case, Member otherwise.
func joinRole(registryEmpty bool, userName string) Role {
	if registryEmpty || strings.EqualFold(userName, AdminUserName) {
		return RoleAdmin
	}
	return RoleMember
}

// IdentityRecord is the authoritative state of one joined connection.
type IdentityRecord struct {
	ConnectionID string
	UserName     string
	ChatRoom     string
	Role         Role
}

// Info returns the public projection of the record.
func (r IdentityRecord) Info() UserInfo {
	return UserInfo{UserName: r.UserName, Role: r.Role, ChatRoom: r.ChatRoom}
}

// IsAdmin reports whether the record holds the Admin role.
func (r IdentityRecord) IsAdmin() bool {
	return r.Role == RoleAdmin
}

// sessionRecord converts the record to its session store mirror.
func (r IdentityRecord) sessionRecord() session.Record {
	return session.Record{UserName: r.UserName, ChatRoom: r.ChatRoom, Role: r.Role.String()}
}

// UserInfo is what other clients may see about a connection.
type UserInfo struct {
	UserName string `json:"userName"`
	Role     Role   `json:"role"`
	ChatRoom string `json:"chatRoom"`
}
