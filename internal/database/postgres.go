package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"imgus-backend/internal/models"
)

const uniqueViolation = "23505"

const jobColumns = `
	id, user_id, prompt, status, provider_request_id, error_code, error_message,
	ingest_lease_until, COALESCE(ingest_lease_until > NOW(), FALSE),
	created_at, started_at, finished_at`

const imageColumns = `i.id, i.user_id, i.kind, i.storage_key, i.size_bytes, i.mime_type, i.width, i.height, i.created_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID, &job.UserID, &job.Prompt, &job.Status, &job.ProviderRequestID,
		&job.ErrorCode, &job.ErrorMessage, &job.IngestLeaseUntil, &job.Ingesting,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func scanImage(row rowScanner, prefix ...any) (*models.Image, error) {
	var img models.Image
	dest := append(prefix,
		&img.ID, &img.UserID, &img.Kind, &img.StorageKey, &img.SizeBytes,
		&img.MimeType, &img.Width, &img.Height, &img.CreatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &img, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (s *PostgresStore) CreateJob(ctx context.Context, userID, prompt string) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, user_id, prompt, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+jobColumns,
		uuid.New(), userID, prompt, models.JobStatusQueued,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) LinkInputs(ctx context.Context, jobID uuid.UUID, imageIDs []uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, imageID := range imageIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO job_images (job_id, image_id, role, ordinal)
			VALUES ($1, $2, $3, $4)
		`, jobID, imageID, models.RoleInput, i); err != nil {
			if isUniqueViolation(err) {
				return models.ErrDuplicate
			}
			return fmt.Errorf("failed to link input image: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit input links: %w", err)
	}
	return nil
}

func (s *PostgresStore) getJob(ctx context.Context, where string, args ...any) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID uuid.UUID, userID string) (*models.Job, error) {
	return s.getJob(ctx, "id = $1 AND user_id = $2", jobID, userID)
}

func (s *PostgresStore) GetJobByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.getJob(ctx, "id = $1", jobID)
}

func (s *PostgresStore) GetJobByRequestID(ctx context.Context, requestID string) (*models.Job, error) {
	return s.getJob(ctx, "provider_request_id = $1", requestID)
}

func (s *PostgresStore) MarkRunning(ctx context.Context, jobID uuid.UUID, requestID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running',
		    started_at = COALESCE(started_at, NOW()),
		    provider_request_id = COALESCE(provider_request_id, NULLIF($2, ''))
		WHERE id = $1 AND status IN ('queued', 'running')
	`, jobID, requestID)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicate
		}
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkTerminal(ctx context.Context, jobID uuid.UUID, status models.JobStatus, code, message string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2,
		    error_code = NULLIF($3, ''),
		    error_message = NULLIF($4, ''),
		    finished_at = NOW(),
		    ingest_lease_until = NULL
		WHERE id = $1 AND status IN ('queued', 'running')
	`, jobID, status, code, message)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s: %w", status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) ClaimIngestion(ctx context.Context, jobID uuid.UUID, lease time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET ingest_lease_until = NOW() + make_interval(secs => $2)
		WHERE id = $1
		  AND status IN ('queued', 'running')
		  AND (ingest_lease_until IS NULL OR ingest_lease_until < NOW())
	`, jobID, lease.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to claim ingestion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) MarkSucceededIfUnleased(ctx context.Context, jobID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'succeeded',
		    error_code = NULL,
		    error_message = NULL,
		    finished_at = NOW()
		WHERE id = $1
		  AND status IN ('queued', 'running')
		  AND ingest_lease_until IS NULL
	`, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to mark job succeeded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) ListOutputs(ctx context.Context, jobID uuid.UUID) ([]models.Output, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ji.ordinal, `+imageColumns+`
		FROM job_images ji
		JOIN images i ON i.id = ji.image_id
		WHERE ji.job_id = $1 AND ji.role = 'output'
		ORDER BY ji.ordinal
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outputs: %w", err)
	}
	defer rows.Close()

	var outputs []models.Output
	for rows.Next() {
		var ordinal int
		img, err := scanImage(rows, &ordinal)
		if err != nil {
			return nil, fmt.Errorf("failed to scan output: %w", err)
		}
		outputs = append(outputs, models.Output{Ordinal: ordinal, Image: *img})
	}
	return outputs, rows.Err()
}

func (s *PostgresStore) CreateOutput(ctx context.Context, jobID uuid.UUID, ordinal int, img *models.Image) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertImage(ctx, tx, img); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_images (job_id, image_id, role, ordinal)
		VALUES ($1, $2, $3, $4)
	`, jobID, img.ID, models.RoleOutput, ordinal); err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicate
		}
		return fmt.Errorf("failed to link output image: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit output: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertImage(ctx context.Context, db queryRower, img *models.Image) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO images (id, user_id, kind, storage_key, size_bytes, mime_type, width, height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, img.ID, img.UserID, img.Kind, img.StorageKey, img.SizeBytes, img.MimeType, img.Width, img.Height,
	).Scan(&img.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicate
		}
		return fmt.Errorf("failed to create image: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateImage(ctx context.Context, img *models.Image) error {
	return insertImage(ctx, s.db, img)
}

func (s *PostgresStore) GetInputImages(ctx context.Context, userID string, ids []uuid.UUID) ([]models.Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+imageColumns+`
		FROM images i
		WHERE i.user_id = $1 AND i.kind = 'input' AND i.id = ANY($2::uuid[])
	`, userID, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to get input images: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]models.Image, len(ids))
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		byID[img.ID] = *img
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read images: %w", err)
	}

	images := make([]models.Image, 0, len(ids))
	for _, id := range ids {
		if img, ok := byID[id]; ok {
			images = append(images, img)
		}
	}
	return images, nil
}

func (s *PostgresStore) ListRecentOutputs(ctx context.Context, userID string, limit int) ([]models.Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+imageColumns+`
		FROM images i
		WHERE i.user_id = $1 AND i.kind = 'output'
		ORDER BY i.created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent outputs: %w", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, jobID uuid.UUID, eventType models.EventType, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_events (job_id, type, payload)
		VALUES ($1, $2, $3)
	`, jobID, eventType, []byte(payload))
	if err != nil {
		return fmt.Errorf("failed to append job event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, jobID uuid.UUID) ([]models.JobEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, type, payload, created_at
		FROM job_events
		WHERE job_id = $1
		ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job events: %w", err)
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var ev models.JobEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
