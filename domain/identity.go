package domain

import "slices"

// Identity is derived once from a verified credential and never changes
// for the lifetime of a connection.
type Identity struct {
	ID          string   `json:"id" validate:"required,max=256"`
	DisplayName string   `json:"displayName" validate:"max=256"`
	Roles       []string `json:"roles,omitempty" validate:"dive,required"`
}

const RoleAdmin = "admin"

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// User is the public view of an identity carried by presence events.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

func (i Identity) User() User {
	return User{ID: i.ID, DisplayName: i.DisplayName}
}
