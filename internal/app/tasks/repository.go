package tasks

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTasksTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
  id text PRIMARY KEY,
  owner_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  title text NOT NULL,
  description text NOT NULL DEFAULT '',
  status text NOT NULL DEFAULT 'open',
  priority text NOT NULL DEFAULT 'P2',
  label text NOT NULL DEFAULT '',
  deadline timestamptz,
  external_id text,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createTasksExternalIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS tasks_owner_external_id_key
ON tasks (owner_id, external_id)
WHERE external_id IS NOT NULL`

const taskColumns = `id, owner_id, title, description, status, priority, label,
       deadline, COALESCE(external_id, ''), created_at, updated_at`

type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, createTasksTableSQL); err != nil {
		return err
	}
	if _, err := s.Pool.Exec(ctx, createTasksExternalIndexSQL); err != nil {
		return err
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, taskID string) (Task, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`,
		taskID,
	)
	return scanTask(row)
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, ownerID, externalID string) (Task, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner_id = $1 AND external_id = $2`,
		ownerID, externalID,
	)
	return scanTask(row)
}

func (s *PostgresStore) FindLatestByTitle(ctx context.Context, ownerID, title string) (Task, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE owner_id = $1 AND title = $2 AND external_id IS NULL
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		ownerID, title,
	)
	return scanTask(row)
}

func (s *PostgresStore) ListForOwner(ctx context.Context, ownerID string, limit int) ([]Task, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE owner_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) Create(ctx context.Context, task Task) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO tasks (id, owner_id, title, description, status, priority, label, deadline, external_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)`,
		task.ID, task.OwnerID, task.Title, task.Description,
		string(task.Status), string(task.Priority), task.Label,
		task.Deadline, task.ExternalID, task.CreatedAt, task.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateExternalID
	}
	return err
}

func (s *PostgresStore) Update(ctx context.Context, task Task) error {
	res, err := s.Pool.Exec(ctx,
		`UPDATE tasks
		 SET title = $3, description = $4, status = $5, priority = $6, label = $7,
		     deadline = $8, external_id = NULLIF($9, ''), updated_at = $10
		 WHERE id = $1 AND owner_id = $2`,
		task.ID, task.OwnerID, task.Title, task.Description,
		string(task.Status), string(task.Priority), task.Label,
		task.Deadline, task.ExternalID, task.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateExternalID
	}
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, ownerID, taskID string) error {
	res, err := s.Pool.Exec(ctx,
		`DELETE FROM tasks WHERE id = $1 AND owner_id = $2`,
		taskID, ownerID,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	var status, priority string
	err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&t.Title,
		&t.Description,
		&status,
		&priority,
		&t.Label,
		&t.Deadline,
		&t.ExternalID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	return t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
