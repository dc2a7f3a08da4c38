package sqlxrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/project"
)

const projectColumns = "id, name, description, owner_id, created_at, updated_at"

var projectOrderings = map[string]string{
	"id":         "id",
	"name":       "name",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

type projectRow struct {
	ID          int       `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	OwnerID     string    `db:"owner_id"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (row projectRow) project() project.Project {
	return project.Project{
		ID:            row.ID,
		Name:          row.Name,
		Description:   row.Description,
		OwnerID:       row.OwnerID,
		ResearcherIDs: make([]string, 0),
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

type projectRepository struct {
	repository
}

var _ project.Repository = (*projectRepository)(nil)

func NewProjectRepository(db core.DBExecutor) project.Repository {
	return &projectRepository{repository{db: db}}
}

// withResearchers loads the researcher ids of rows.
func (repo *projectRepository) withResearchers(ctx context.Context, rows []projectRow) ([]project.Project, error) {
	projects := make([]project.Project, 0, len(rows))
	if len(rows) == 0 {
		return projects, nil
	}
	ids := make([]int, 0, len(rows))
	idx := make(map[int]int, len(rows))
	for i, row := range rows {
		ids = append(ids, row.ID)
		idx[row.ID] = i
		projects = append(projects, row.project())
	}

	var members []struct {
		ProjectID int    `db:"project_id"`
		UserID    string `db:"user_id"`
	}
	q, args := in("SELECT project_id, user_id FROM project_researchers WHERE project_id IN (?) ORDER BY user_id", ids)
	if err := repo.selectAll(ctx, &members, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying researchers")
	}
	for _, m := range members {
		p := &projects[idx[m.ProjectID]]
		p.ResearcherIDs = append(p.ResearcherIDs, m.UserID)
	}
	return projects, nil
}

func (repo *projectRepository) QueryProjects(ctx context.Context, memberID string, orderings ...core.DBOrdering) ([]project.Project, error) {
	q := "SELECT " + projectColumns + " FROM projects"
	var args []interface{}
	if memberID != "" {
		q += " WHERE owner_id = ? OR id IN (SELECT project_id FROM project_researchers WHERE user_id = ?)"
		args = append(args, memberID, memberID)
	}
	q += orderBy(orderings, projectOrderings, "created_at DESC, id DESC")

	var rows []projectRow
	if err := repo.selectAll(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying projects")
	}
	return repo.withResearchers(ctx, rows)
}

func (repo *projectRepository) GetProjectByID(ctx context.Context, id int) (project.Project, error) {
	var row projectRow
	if err := repo.get(ctx, &row, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id); err != nil {
		return project.Project{}, trapNoRowsErr(err, project.ErrNotFound, "finding project")
	}
	projects, err := repo.withResearchers(ctx, []projectRow{row})
	if err != nil {
		return project.Project{}, err
	}
	return projects[0], nil
}

func (repo *projectRepository) CreateProject(ctx context.Context, p project.Project) (project.Project, error) {
	err := repo.get(ctx, &p.ID,
		"INSERT INTO projects (name, description, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?) RETURNING id",
		p.Name, p.Description, p.OwnerID, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return project.Project{}, errors.Wrap(err, "inserting project")
	}
	return p, nil
}

func (repo *projectRepository) UpdateProject(ctx context.Context, p project.Project) (project.Project, error) {
	res, err := repo.exec(ctx, "UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?",
		p.Name, p.Description, p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return project.Project{}, errors.Wrap(err, "updating project")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return project.Project{}, project.ErrNotFound
	}
	return p, nil
}

func (repo *projectRepository) SetResearchers(ctx context.Context, projectID int, userIDs ...string) error {
	if _, err := repo.exec(ctx, "DELETE FROM project_researchers WHERE project_id = ?", projectID); err != nil {
		return errors.Wrap(err, "clearing researchers")
	}
	for _, id := range userIDs {
		if _, err := repo.exec(ctx, "INSERT INTO project_researchers (project_id, user_id) VALUES (?, ?)", projectID, id); err != nil {
			return errors.Wrap(err, "adding researcher")
		}
	}
	return nil
}

func (repo *projectRepository) DeleteProject(ctx context.Context, id int) error {
	_, err := repo.exec(ctx, "DELETE FROM projects WHERE id = ?", id)
	return errors.Wrap(err, "deleting project")
}
