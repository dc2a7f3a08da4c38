package project

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/user"
)

var (
	// errors
	ErrNotFound = errors.New("project not found")

	unknownResearcherText = "Select valid researchers."
)

type (
	Repository interface {
		// QueryProjects returns the projects visible to the user with memberID, or all of them when memberID is empty.
		QueryProjects(ctx context.Context, memberID string, orderings ...core.DBOrdering) ([]Project, error)
		GetProjectByID(ctx context.Context, id int) (Project, error)
		CreateProject(ctx context.Context, p Project) (Project, error)
		UpdateProject(ctx context.Context, p Project) (Project, error)
		// SetResearchers replaces the researcher members of a project.
		SetResearchers(ctx context.Context, projectID int, userIDs ...string) error
		DeleteProject(ctx context.Context, id int) error
	}

	Service interface {
		Query(ctx context.Context, usr user.User, orderings []core.DBOrdering) ([]Project, error)
		GetByID(ctx context.Context, id int) (Project, error)
		Create(ctx context.Context, owner user.User, pi ProjectInput) (Project, error)
		Update(ctx context.Context, p Project, pi ProjectInput) (Project, error)
		Delete(ctx context.Context, p Project) error
	}

	// UserGetter is the part of user.Service used to check researcher ids.
	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	service struct {
		repo  Repository
		users UserGetter
		tx    core.Transactor
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, users UserGetter, tx core.Transactor) Service {
	return &service{repo: repo, users: users, tx: tx}
}

func (svc *service) Query(ctx context.Context, usr user.User, orderings []core.DBOrdering) ([]Project, error) {
	var memberID string
	if !usr.IsAdmin() {
		memberID = usr.ID
	}
	return svc.repo.QueryProjects(ctx, memberID, orderings...)
}

func (svc *service) GetByID(ctx context.Context, id int) (Project, error) {
	return svc.repo.GetProjectByID(ctx, id)
}

func (svc *service) checkResearchers(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := svc.users.GetByID(ctx, id); err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				return core.NewFieldError("researchers", unknownResearcherText)
			}
			return errors.Wrap(err, "getting researcher")
		}
	}
	return nil
}

func (svc *service) Create(ctx context.Context, owner user.User, pi ProjectInput) (Project, error) {
	now := time.Now().UTC()
	p := Project{
		Name:          pi.Name,
		Description:   pi.Description,
		OwnerID:       owner.ID,
		ResearcherIDs: pi.ResearcherIDs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := svc.checkResearchers(ctx, pi.ResearcherIDs); err != nil {
			return err
		}
		created, err := svc.repo.CreateProject(ctx, p)
		if err != nil {
			return errors.Wrap(err, "creating project")
		}
		p.ID = created.ID
		return errors.Wrap(svc.repo.SetResearchers(ctx, p.ID, p.ResearcherIDs...), "setting researchers")
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (svc *service) Update(ctx context.Context, p Project, pi ProjectInput) (Project, error) {
	p.Name = pi.Name
	p.Description = pi.Description
	p.ResearcherIDs = pi.ResearcherIDs
	p.UpdatedAt = time.Now().UTC()

	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := svc.checkResearchers(ctx, pi.ResearcherIDs); err != nil {
			return err
		}
		if _, err := svc.repo.UpdateProject(ctx, p); err != nil {
			return errors.Wrap(err, "updating project")
		}
		return errors.Wrap(svc.repo.SetResearchers(ctx, p.ID, p.ResearcherIDs...), "setting researchers")
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (svc *service) Delete(ctx context.Context, p Project) error {
	return svc.repo.DeleteProject(ctx, p.ID)
}
