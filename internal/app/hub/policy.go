package hub

import (
	"fmt"

	"chathub/internal/pkg/errs"
)

// Action is a moderation action subject to authorization.
type Action uint8

const (
	ActionRemoveUser Action = iota + 1
	ActionMakeAdmin
)

func (a Action) String() string {
	switch a {
	case ActionRemoveUser:
		return "RemoveUser"
	case ActionMakeAdmin:
		return "MakeAdmin"
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// Authorize decides whether caller may perform action on targetUserName.
// It returns nil to allow, or the denial reason. It does not resolve the
// target: an unknown target is a no-op decided by the caller afterwards.
//
// RemoveUser: only Admins, and never on the caller's own user name.
// MakeAdmin: only Admins.
func Authorize(caller IdentityRecord, action Action, targetUserName string) *errs.CustomError {
	switch action {
	case ActionRemoveUser:
		if !caller.IsAdmin() {
			return errs.NewError(errs.ErrNotAuthorized)
		}
		if targetUserName == caller.UserName {
			return errs.NewError(errs.ErrCannotRemoveSelf)
		}
		return nil

	case ActionMakeAdmin:
		if !caller.IsAdmin() {
			return errs.NewError(errs.ErrNotAuthorized)
		}
		return nil
	}

	return errs.NewError(errs.ErrNotAuthorized)
}
