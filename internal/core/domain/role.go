package domain

import (
	"fmt"
	"slices"
	"strings"
)

type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleStore    Role = "store"
)

func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	switch role {
	case RoleEmployee, RoleManager, RoleStore:
		return role, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

// Identity is a verified caller as handed over by the authentication layer.
type Identity struct {
	ID   string `json:"identity"`
	Role Role   `json:"role"`
}

type Action string

const (
	ActionViewCatalog     Action = "view_catalog"
	ActionSubmit          Action = "submit"
	ActionViewOwnHistory  Action = "view_own_history"
	ActionViewAnyHistory  Action = "view_any_history"
	ActionListPending     Action = "list_pending"
	ActionDecide          Action = "decide"
	ActionListApproved    Action = "list_approved"
	ActionFulfill         Action = "fulfill"
	ActionManageInventory Action = "manage_inventory"
	ActionViewWishlist    Action = "view_wishlist"
)

var (
	employeeActions = []Action{ActionViewCatalog, ActionSubmit, ActionViewOwnHistory}
	managerActions  = slices.Concat(employeeActions,
		[]Action{ActionViewAnyHistory, ActionListPending, ActionDecide, ActionViewWishlist})
	// store carries every manager capability.
	storeActions = slices.Concat(managerActions,
		[]Action{ActionListApproved, ActionFulfill, ActionManageInventory})
)

var permissions = map[Role]map[Action]struct{}{
	RoleEmployee: actionSet(employeeActions),
	RoleManager:  actionSet(managerActions),
	RoleStore:    actionSet(storeActions),
}

func actionSet(actions []Action) map[Action]struct{} {
	set := make(map[Action]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return set
}

// CanPerform is the authorization table. Unknown roles or actions are denied.
func CanPerform(role Role, action Action) bool {
	_, ok := permissions[role][action]
	return ok
}

// Authorize returns ErrForbidden when the identity's role lacks action.
func Authorize(id Identity, action Action) error {
	if !CanPerform(id.Role, action) {
		return fmt.Errorf("%w: role %q may not %s", ErrForbidden, id.Role, action)
	}
	return nil
}
