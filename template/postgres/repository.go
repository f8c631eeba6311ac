// Package postgres stores templates in Postgres through sqlx.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	dbsqlx "github.com/pure-golang/bulkmail/db/pg/sqlx"
	"github.com/pure-golang/bulkmail/logger"
	"github.com/pure-golang/bulkmail/template"
)

//go:embed schema.sql
var schema string

// DB is implemented by *sqlx.Connection.
type DB interface {
	dbsqlx.Querier
	RunTx(ctx context.Context, opts *sql.TxOptions, fn dbsqlx.TxFunc) error
}

// Repository implements template CRUD.
type Repository struct {
	db  DB
	now func() time.Time
}

// NewRepository creates a Repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Migrate creates the table when it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply template schema")
	}
	return nil
}

const columns = `id, name, description, subject, html, created_at, updated_at`

// List returns every template ordered by name.
func (r *Repository) List(ctx context.Context) ([]template.Template, error) {
	var list []template.Template
	if err := r.db.Select(ctx, &list, `SELECT `+columns+` FROM templates ORDER BY name`); err != nil {
		return nil, errors.Wrap(err, "failed to list templates")
	}
	for i := range list {
		list[i].Refresh()
	}
	return list, nil
}

// Get returns the template by ID.
func (r *Repository) Get(ctx context.Context, id string) (template.Template, error) {
	var t template.Template
	err := r.db.Get(ctx, &t, `SELECT `+columns+` FROM templates WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return template.Template{}, errors.Wrapf(template.ErrNotFound, "id %s", id)
	}
	if err != nil {
		return template.Template{}, errors.Wrap(err, "failed to get template")
	}
	t.Refresh()
	return t, nil
}

// Create stores t with a new ID and returns it.
func (r *Repository) Create(ctx context.Context, t template.Template) (template.Template, error) {
	return r.create(ctx, r.db, t)
}

func (r *Repository) create(ctx context.Context, q dbsqlx.Querier, t template.Template) (template.Template, error) {
	if t.Name == "" || t.HTML == "" {
		return template.Template{}, errors.New("template name and body are required")
	}
	now := r.now().UTC()
	t.ID = uuid.NewString()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Refresh()

	_, err := q.NamedExec(ctx, `INSERT INTO templates (`+columns+`)
		VALUES (:id, :name, :description, :subject, :html, :created_at, :updated_at)`, t)
	if dbsqlx.IsUniqueViolation(err) {
		return template.Template{}, errors.Wrapf(template.ErrAlreadyExists, "name %q", t.Name)
	}
	if err != nil {
		return template.Template{}, errors.Wrap(err, "failed to create template")
	}
	return t, nil
}

// Update replaces the name, description, subject and body of t.ID.
func (r *Repository) Update(ctx context.Context, t template.Template) (template.Template, error) {
	t.UpdatedAt = r.now().UTC()
	res, err := r.db.NamedExec(ctx, `UPDATE templates
		SET name = :name, description = :description, subject = :subject, html = :html, updated_at = :updated_at
		WHERE id = :id`, t)
	if dbsqlx.IsUniqueViolation(err) {
		return template.Template{}, errors.Wrapf(template.ErrAlreadyExists, "name %q", t.Name)
	}
	if err != nil {
		return template.Template{}, errors.Wrap(err, "failed to update template")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return template.Template{}, errors.Wrapf(template.ErrNotFound, "id %s", t.ID)
	}
	return r.Get(ctx, t.ID)
}

// Delete removes the template.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete template")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(template.ErrNotFound, "id %s", id)
	}
	return nil
}

// SeedDefaults inserts the built-in templates when the table is empty and
// returns how many were inserted.
func (r *Repository) SeedDefaults(ctx context.Context) (int, error) {
	docs, err := template.Defaults()
	if err != nil {
		return 0, err
	}

	inserted := 0
	err = r.db.RunTx(ctx, nil, func(ctx context.Context, tx *dbsqlx.Tx) error {
		var count int
		if err := tx.Get(ctx, &count, `SELECT count(*) FROM templates`); err != nil {
			return errors.Wrap(err, "failed to count templates")
		}
		if count > 0 {
			return nil
		}
		for _, doc := range docs {
			if _, err := r.create(ctx, tx, template.FromDocument(doc)); err != nil {
				return errors.Wrapf(err, "failed to seed %q", doc.Name)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if inserted > 0 {
		logger.FromContext(ctx).Info("seeded built-in templates", "count", inserted)
	}
	return inserted, nil
}
