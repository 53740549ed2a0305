package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

const uniqueViolation = "23505"

// Postgres implements CaseStore and JobsRepository on one pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (r *Postgres) Close() {
	r.pool.Close()
}

func (r *Postgres) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// PutCase upserts a case and its items. Existing external ids and sessions
// are left alone; items missing from c are not deleted.
func (r *Postgres) PutCase(ctx context.Context, c *domain.Case) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO cases (id, integrations)
			VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET integrations = EXCLUDED.integrations
		`, c.ID, fromIntegrations(c.Integrations)); err != nil {
			return fmt.Errorf("upsert case: %w", err)
		}

		batch := &pgx.Batch{}
		for _, item := range c.Items {
			category := item.Category
			if category == "" {
				category = domain.ItemCategoryPhoto
			}
			batch.Queue(`
				INSERT INTO case_items (id, case_id, category, content_ref, ext, width, height, integrations)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO UPDATE SET
					category = EXCLUDED.category,
					content_ref = EXCLUDED.content_ref,
					ext = EXCLUDED.ext,
					width = EXCLUDED.width,
					height = EXCLUDED.height,
					integrations = EXCLUDED.integrations
			`, item.ID, c.ID, string(category), item.ContentRef, item.Ext, item.Width, item.Height, fromIntegrations(item.Integrations))
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert case items: %w", err)
		}
		return nil
	})
}

func (r *Postgres) LoadCase(ctx context.Context, caseID string) (*domain.Case, error) {
	c := &domain.Case{ID: caseID, Sessions: make(map[domain.Integration]string)}

	var integrations []string
	err := r.pool.QueryRow(ctx, `SELECT integrations FROM cases WHERE id = $1`, caseID).Scan(&integrations)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query case: %w", err)
	}
	c.Integrations = toIntegrations(integrations)

	sessionRows, err := r.pool.Query(ctx, `
		SELECT integration, session_id
		FROM case_sessions
		WHERE case_id = $1
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query case sessions: %w", err)
	}
	defer sessionRows.Close()
	for sessionRows.Next() {
		var integration, sessionID string
		if err := sessionRows.Scan(&integration, &sessionID); err != nil {
			return nil, fmt.Errorf("scan case session: %w", err)
		}
		c.Sessions[domain.Integration(integration)] = sessionID
	}
	if sessionRows.Err() != nil {
		return nil, fmt.Errorf("iterate case sessions: %w", sessionRows.Err())
	}

	rows, err := r.pool.Query(ctx, `
		SELECT i.id, i.category, i.content_ref, i.ext, i.width, i.height, i.integrations,
			COALESCE(
				(SELECT jsonb_object_agg(e.integration, e.external_id)
				 FROM item_external_ids e WHERE e.item_id = i.id),
				'{}'::jsonb
			)
		FROM case_items i
		WHERE i.case_id = $1
		ORDER BY i.created_at DESC, i.id
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query case items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item         domain.Item
			category     string
			integrations []string
			externalIDs  map[string]string
		)
		if err := rows.Scan(
			&item.ID,
			&category,
			&item.ContentRef,
			&item.Ext,
			&item.Width,
			&item.Height,
			&integrations,
			&externalIDs,
		); err != nil {
			return nil, fmt.Errorf("scan case item: %w", err)
		}
		item.CaseID = caseID
		item.Category = domain.ItemCategory(category)
		item.Integrations = toIntegrations(integrations)
		item.ExternalIDs = make(map[domain.Integration]string, len(externalIDs))
		for integration, externalID := range externalIDs {
			item.ExternalIDs[domain.Integration(integration)] = externalID
		}
		c.Items = append(c.Items, item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate case items: %w", rows.Err())
	}
	return c, nil
}

func (r *Postgres) LoadResult(ctx context.Context, caseID string, integration domain.Integration) ([]byte, error) {
	var document []byte
	err := r.pool.QueryRow(ctx, `
		SELECT document
		FROM result_documents
		WHERE case_id = $1 AND integration = $2
	`, caseID, string(integration)).Scan(&document)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query result document: %w", err)
	}
	return document, nil
}

func (r *Postgres) SaveResult(ctx context.Context, caseID string, integration domain.Integration, document []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO result_documents (case_id, integration, document, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (case_id, integration)
		DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
	`, caseID, string(integration), document, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert result document: %w", err)
	}
	return nil
}

func (r *Postgres) AssignExternalID(ctx context.Context, itemID string, integration domain.Integration, candidate string) (string, error) {
	var externalID string
	err := r.pool.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO item_external_ids (item_id, integration, external_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (item_id, integration) DO NOTHING
			RETURNING external_id
		)
		SELECT external_id FROM inserted
		UNION ALL
		SELECT external_id FROM item_external_ids WHERE item_id = $1 AND integration = $2
		LIMIT 1
	`, itemID, string(integration), candidate).Scan(&externalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("assign external id: %w", err)
	}
	return externalID, nil
}

func (r *Postgres) AssignSession(ctx context.Context, caseID string, integration domain.Integration, candidate string) (string, error) {
	var sessionID string
	err := r.pool.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO case_sessions (case_id, integration, session_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (case_id, integration) DO NOTHING
			RETURNING session_id
		)
		SELECT session_id FROM inserted
		UNION ALL
		SELECT session_id FROM case_sessions WHERE case_id = $1 AND integration = $2
		LIMIT 1
	`, caseID, string(integration), candidate).Scan(&sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("assign case session: %w", err)
	}
	return sessionID, nil
}

func (r *Postgres) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id,
			kind,
			case_id,
			integration,
			task_id,
			status,
			error_message,
			attempts,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		job.ID,
		string(job.Kind),
		job.CaseID,
		string(job.Integration),
		job.TaskID,
		string(job.Status),
		job.ErrorMessage,
		job.Attempts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrJobExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *Postgres) UpdateJob(ctx context.Context, job *domain.Job) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2,
			error_message = $3,
			attempts = $4,
			updated_at = $5
		WHERE id = $1
	`, job.ID, string(job.Status), job.ErrorMessage, job.Attempts, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Postgres) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	rows, err := r.pool.Query(ctx, jobSelect+` WHERE id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return &jobs[0], nil
}

func (r *Postgres) ListCaseJobs(ctx context.Context, caseID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, jobSelect+` WHERE case_id = $1 ORDER BY created_at DESC LIMIT $2`, caseID, limit)
	if err != nil {
		return nil, fmt.Errorf("list case jobs: %w", err)
	}
	return scanJobs(rows)
}

const jobSelect = `
	SELECT id, kind, case_id, integration, task_id, status, error_message, attempts, created_at, updated_at
	FROM jobs`

func scanJobs(rows pgx.Rows) ([]domain.Job, error) {
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		var (
			job         domain.Job
			kind        string
			integration string
			status      string
		)
		if err := rows.Scan(
			&job.ID,
			&kind,
			&job.CaseID,
			&integration,
			&job.TaskID,
			&status,
			&job.ErrorMessage,
			&job.Attempts,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Kind = domain.JobKind(kind)
		job.Integration = domain.Integration(integration)
		job.Status = domain.JobStatus(status)
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return jobs, nil
}

func fromIntegrations(values []domain.Integration) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		result = append(result, string(value))
	}
	return result
}

func toIntegrations(values []string) []domain.Integration {
	integrations := make([]domain.Integration, 0, len(values))
	for _, value := range values {
		integrations = append(integrations, domain.Integration(value))
	}
	return integrations
}
