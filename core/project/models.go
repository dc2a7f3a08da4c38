package project

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/user"
)

type Project struct {
	ID            int       `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	OwnerID       string    `json:"owner"`
	ResearcherIDs []string  `json:"researchers"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
}

// CanAccess reports whether usr may see and manage the project and its experiments.
func (p Project) CanAccess(usr user.User) bool {
	if usr.IsAdmin() || usr.ID == p.OwnerID {
		return true
	}
	for _, id := range p.ResearcherIDs {
		if id == usr.ID {
			return true
		}
	}
	return false
}

// ProjectInput contains the information needed to create or update a Project.
type ProjectInput struct {
	Name          string   `json:"name" validate:"required,max=255"`
	Description   string   `json:"description"`
	ResearcherIDs []string `json:"researchers" validate:"omitempty,dive,required"`
}

func (pi *ProjectInput) Validate(validate *validator.Validate) error {
	pi.Name = core.CleanString(pi.Name)
	pi.Description = core.CleanString(pi.Description)

	ids := make([]string, 0, len(pi.ResearcherIDs))
	seen := make(map[string]bool, len(pi.ResearcherIDs))
	for _, id := range pi.ResearcherIDs {
		if id = core.CleanString(id); !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	pi.ResearcherIDs = ids
	return validate.Struct(pi)
}
