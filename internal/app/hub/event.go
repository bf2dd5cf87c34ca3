package hub

import (
	"encoding/json"
	"fmt"
)

// InvocationType names a client-to-server call.
type InvocationType string

const (
	InvokeJoinChat    InvocationType = "JOIN_CHAT"
	InvokeSendMessage InvocationType = "SEND_MESSAGE"
	InvokeRemoveUser  InvocationType = "REMOVE_USER"
	InvokeMakeAdmin   InvocationType = "MAKE_ADMIN"
	InvokeGetAllUsers InvocationType = "GET_ALL_USERS"
	InvokeSearchUsers InvocationType = "SEARCH_USERS"
)

// EventType names a server-to-client frame.
type EventType string

const (
	EventReceiveMessage   EventType = "RECEIVE_MESSAGE"
	EventUsersListUpdated EventType = "USERS_LIST_UPDATED"
	EventUserRemoved      EventType = "USER_REMOVED"
	EventUserRoleUpdated  EventType = "USER_ROLE_UPDATED"
	EventResult           EventType = "RESULT"
	EventError            EventType = "ERROR"
)

// Sender names used for notices generated by the hub itself.
const (
	// SenderAdmin signs join and leave notices.
	SenderAdmin = "Admin"

	// SenderSystem signs moderation notices and denials.
	SenderSystem = "System"
)

// Invocation is an inbound frame.
type Invocation struct {
	Type InvocationType `json:"type"`

	// ID is echoed on the RESULT or ERROR frame answering this invocation.
	ID string `json:"id,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinChatArgs is the payload of JOIN_CHAT.
type JoinChatArgs struct {
	UserName string `json:"userName"`
	ChatRoom string `json:"chatRoom"`
}

// SendMessageArgs is the payload of SEND_MESSAGE.
type SendMessageArgs struct {
	Message string `json:"message"`
}

// TargetArgs is the payload of REMOVE_USER and MAKE_ADMIN.
type TargetArgs struct {
	TargetUserName string `json:"targetUserName"`
}

// SearchUsersArgs is the payload of SEARCH_USERS.
type SearchUsersArgs struct {
	Term string `json:"term"`
}

// Frame is an outbound frame.
type Frame struct {
	Type    EventType `json:"type"`
	ID      string    `json:"id,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// ReceiveMessagePayload carries a chat message or a system notice.
type ReceiveMessagePayload struct {
	UserName string `json:"userName"`
	Message  string `json:"message"`
}

// UsersListPayload carries the full presence snapshot.
type UsersListPayload struct {
	Users []UserInfo `json:"users"`
}

// UserRemovedPayload is sent only to the removed connection.
type UserRemovedPayload struct {
	Reason string `json:"reason"`
}

// UserRoleUpdatedPayload announces a role change to every client.
type UserRoleUpdatedPayload struct {
	UserName string `json:"userName"`
	NewRole  string `json:"newRole"`
}

// ErrorPayload answers an invocation that could not be processed.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// EncodeFrame marshals f for the wire.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("hub: encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

func receiveMessageFrame(userName, message string) Frame {
	return Frame{Type: EventReceiveMessage, Payload: ReceiveMessagePayload{UserName: userName, Message: message}}
}

func usersListFrame(users []UserInfo) Frame {
	return Frame{Type: EventUsersListUpdated, Payload: UsersListPayload{Users: users}}
}

func userRemovedFrame(reason string) Frame {
	return Frame{Type: EventUserRemoved, Payload: UserRemovedPayload{Reason: reason}}
}

func userRoleUpdatedFrame(userName string, role Role) Frame {
	return Frame{Type: EventUserRoleUpdated, Payload: UserRoleUpdatedPayload{UserName: userName, NewRole: role.String()}}
}
