package auth

import (
	"etmf-portal/portal-backend/pkg/workflows"
)

// Actor is the identity a workflow action is performed as
type Actor struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Role workflows.Role `json:"role"`
}

// DisplayName falls back to the id when the token carried no name
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
