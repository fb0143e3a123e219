package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

// PostgresStore persists documents in postgres with indexed filter columns
// and the full document as JSONB. Experimental: the embedded store remains
// the functional default backend.
type PostgresStore struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

const (
	memoriesTable   = "capsule_memories"
	candidatesTable = "capsule_candidates"
	graphJobsTable  = "capsule_graph_jobs"
	entitiesTable   = "capsule_graph_entities"
)

// NewPostgresStore connects and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: failed to connect: %w", err)
	}
	s := &PostgresStore{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			idempotency_key TEXT,
			pinned BOOLEAN NOT NULL DEFAULT FALSE,
			type TEXT NOT NULL DEFAULT '',
			visibility TEXT NOT NULL DEFAULT 'private',
			store TEXT NOT NULL DEFAULT 'long_term',
			graph_enrich BOOLEAN NOT NULL DEFAULT FALSE,
			retention TEXT NOT NULL DEFAULT 'replaceable',
			tags TEXT[] NOT NULL DEFAULT '{}',
			importance DOUBLE PRECISION NOT NULL DEFAULT 1,
			recency DOUBLE PRECISION NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			doc JSONB NOT NULL
		)`, memoriesTable),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_idem_idx
			ON %s (org_id, project_id, subject_id, idempotency_key)
			WHERE idempotency_key IS NOT NULL`, memoriesTable, memoriesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tenancy_created_idx
			ON %s (org_id, project_id, subject_id, created_at)`, memoriesTable, memoriesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tags_idx ON %s USING GIN (tags)`,
			memoriesTable, memoriesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL
		)`, candidatesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_idx
			ON %s (org_id, project_id, subject_id, status, created_at)`, candidatesTable, candidatesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			memory_id TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, graphJobsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_updated_idx
			ON %s (status, updated_at)`, graphJobsTable, graphJobsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			org_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			entity TEXT NOT NULL,
			memory_ids TEXT[] NOT NULL DEFAULT '{}',
			last_seen_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (org_id, project_id, entity)
		)`, entitiesTable),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres store: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, m *memcore.Memory) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("postgres store: encode memory: %w", err)
	}
	var idem any
	if m.IdempotencyKey != "" {
		idem = m.IdempotencyKey
	}
	query := s.sb.Insert(memoriesTable).
		Columns("id", "org_id", "project_id", "subject_id", "idempotency_key", "pinned",
			"type", "visibility", "store", "graph_enrich", "retention", "tags",
			"importance", "recency", "created_at", "expires_at", "doc").
		Values(m.ID.String(), m.Tenancy.OrgID, m.Tenancy.ProjectID, m.Tenancy.SubjectID, idem,
			m.Pinned, m.Type, string(m.ACL.Visibility), string(m.Storage.Store),
			m.Storage.GraphEnrichEnabled(), string(m.Retention), m.Tags,
			m.Importance, m.Recency, m.CreatedAt, m.ExpiresAt, doc)
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("postgres store: insert memory: %w", err)
	}
	return nil
}

type docRow struct {
	Doc []byte `db:"doc"`
}

func (s *PostgresStore) scanMemories(ctx context.Context, query sq.SelectBuilder) ([]*memcore.Memory, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	var rows []docRow
	if err := pgxscan.Select(ctx, s.pool, &rows, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("postgres store: query memories: %w", err)
	}
	out := make([]*memcore.Memory, 0, len(rows))
	for _, row := range rows {
		var m memcore.Memory
		if err := json.Unmarshal(row.Doc, &m); err != nil {
			return nil, fmt.Errorf("postgres store: decode memory: %w", err)
		}
		out = append(out, &m)
	}
	return out, nil
}

func (s *PostgresStore) notExpired() sq.Sqlizer {
	return sq.Or{sq.Eq{"expires_at": nil}, sq.Gt{"expires_at": time.Now()}}
}

func (s *PostgresStore) Get(ctx context.Context, orgID, projectID string, id core.ID) (*memcore.Memory, error) {
	memories, err := s.scanMemories(ctx, s.sb.Select("doc").From(memoriesTable).
		Where(sq.Eq{"id": id.String(), "org_id": orgID, "project_id": projectID}).
		Where(s.notExpired()))
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return nil, ErrNotFound
	}
	return memories[0], nil
}

func (s *PostgresStore) GetMany(
	ctx context.Context,
	orgID, projectID string,
	ids []core.ID,
) ([]*memcore.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	return s.scanMemories(ctx, s.sb.Select("doc").From(memoriesTable).
		Where(sq.Eq{"id": raw, "org_id": orgID, "project_id": projectID}).
		Where(s.notExpired()))
}

func (s *PostgresStore) FindByIdempotencyKey(
	ctx context.Context,
	tenancy memcore.Tenancy,
	key string,
) (*memcore.Memory, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	memories, err := s.scanMemories(ctx, s.sb.Select("doc").From(memoriesTable).
		Where(sq.Eq{
			"org_id":          tenancy.OrgID,
			"project_id":      tenancy.ProjectID,
			"subject_id":      tenancy.SubjectID,
			"idempotency_key": key,
		}))
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return nil, ErrNotFound
	}
	return memories[0], nil
}

func (s *PostgresStore) Update(ctx context.Context, m *memcore.Memory) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("postgres store: encode memory: %w", err)
	}
	query := s.sb.Update(memoriesTable).
		Set("pinned", m.Pinned).
		Set("type", m.Type).
		Set("visibility", string(m.ACL.Visibility)).
		Set("store", string(m.Storage.Store)).
		Set("graph_enrich", m.Storage.GraphEnrichEnabled()).
		Set("retention", string(m.Retention)).
		Set("tags", m.Tags).
		Set("importance", m.Importance).
		Set("recency", m.Recency).
		Set("expires_at", m.ExpiresAt).
		Set("doc", doc).
		Where(sq.Eq{"id": m.ID.String(), "org_id": m.Tenancy.OrgID, "project_id": m.Tenancy.ProjectID})
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("postgres store: update memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, orgID, projectID string, id core.ID) error {
	sqlStr, args, err := s.sb.Delete(memoriesTable).
		Where(sq.Eq{"id": id.String(), "org_id": orgID, "project_id": projectID}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("postgres store: delete memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) applyFilter(query sq.SelectBuilder, filter Filter) sq.SelectBuilder {
	query = query.Where(sq.Eq{"org_id": filter.OrgID, "project_id": filter.ProjectID}).
		Where(s.notExpired())
	if filter.SubjectID != "" {
		query = query.Where(sq.Eq{"subject_id": filter.SubjectID})
	}
	if filter.Pinned != nil {
		query = query.Where(sq.Eq{"pinned": *filter.Pinned})
	}
	if filter.Tag != "" {
		query = query.Where("? = ANY(tags)", filter.Tag)
	}
	if filter.Type != "" {
		query = query.Where(sq.Eq{"type": filter.Type})
	}
	if len(filter.Types) > 0 {
		query = query.Where(sq.Eq{"type": filter.Types})
	}
	if filter.Visibility != "" {
		query = query.Where(sq.Eq{"visibility": string(filter.Visibility)})
	}
	if filter.Store != "" {
		query = query.Where(sq.Eq{"store": string(filter.Store)})
	}
	if filter.GraphEnrich != nil {
		query = query.Where(sq.Eq{"graph_enrich": *filter.GraphEnrich})
	}
	if filter.Retention != "" {
		query = query.Where(sq.Eq{"retention": string(filter.Retention)})
	}
	return query
}

func (s *PostgresStore) List(ctx context.Context, filter Filter, limit int) ([]*memcore.Memory, error) {
	query := s.applyFilter(s.sb.Select("doc").From(memoriesTable), filter).
		OrderBy("pinned DESC", "importance DESC", "recency DESC", "created_at DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	return s.scanMemories(ctx, query)
}

func (s *PostgresStore) Recent(ctx context.Context, filter Filter, limit int) ([]*memcore.Memory, error) {
	query := s.applyFilter(s.sb.Select("doc").From(memoriesTable), filter).
		OrderBy("created_at DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	return s.scanMemories(ctx, query)
}

func (s *PostgresStore) CountByTenancy(ctx context.Context, tenancy memcore.Tenancy) (int, error) {
	sqlStr, args, err := s.sb.Select("COUNT(*)").From(memoriesTable).
		Where(sq.Eq{
			"org_id":     tenancy.OrgID,
			"project_id": tenancy.ProjectID,
			"subject_id": tenancy.SubjectID,
		}).
		Where(s.notExpired()).
		ToSql()
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.pool.QueryRow(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres store: count memories: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) OldestUnpinned(
	ctx context.Context,
	tenancy memcore.Tenancy,
	limit int,
) ([]*memcore.Memory, error) {
	query := s.sb.Select("doc").From(memoriesTable).
		Where(sq.Eq{
			"org_id":     tenancy.OrgID,
			"project_id": tenancy.ProjectID,
			"subject_id": tenancy.SubjectID,
			"pinned":     false,
		}).
		Where(s.notExpired()).
		OrderBy("created_at ASC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	return s.scanMemories(ctx, query)
}

func (s *PostgresStore) InsertCandidate(ctx context.Context, c *memcore.CaptureCandidate) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("postgres store: encode candidate: %w", err)
	}
	sqlStr, args, err := s.sb.Insert(candidatesTable).
		Columns("id", "org_id", "project_id", "subject_id", "status", "created_at", "doc").
		Values(c.ID.String(), c.Tenancy.OrgID, c.Tenancy.ProjectID, c.Tenancy.SubjectID,
			string(c.Status), c.CreatedAt, doc).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("postgres store: insert candidate: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCandidate(
	ctx context.Context,
	tenancy memcore.Tenancy,
	id core.ID,
) (*memcore.CaptureCandidate, error) {
	sqlStr, args, err := s.sb.Select("doc").From(candidatesTable).
		Where(sq.Eq{
			"id":         id.String(),
			"org_id":     tenancy.OrgID,
			"project_id": tenancy.ProjectID,
			"subject_id": tenancy.SubjectID,
		}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []docRow
	if err := pgxscan.Select(ctx, s.pool, &rows, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("postgres store: query candidate: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	var c memcore.CaptureCandidate
	if err := json.Unmarshal(rows[0].Doc, &c); err != nil {
		return nil, fmt.Errorf("postgres store: decode candidate: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) UpdateCandidate(ctx context.Context, c *memcore.CaptureCandidate) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("postgres store: encode candidate: %w", err)
	}
	sqlStr, args, err := s.sb.Update(candidatesTable).
		Set("status", string(c.Status)).
		Set("doc", doc).
		Where(sq.Eq{
			"id":         c.ID.String(),
			"org_id":     c.Tenancy.OrgID,
			"project_id": c.Tenancy.ProjectID,
			"subject_id": c.Tenancy.SubjectID,
		}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("postgres store: update candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListCandidates(
	ctx context.Context,
	tenancy memcore.Tenancy,
	status memcore.CaptureStatus,
	limit int,
) ([]*memcore.CaptureCandidate, error) {
	query := s.sb.Select("doc").From(candidatesTable).
		Where(sq.Eq{
			"org_id":     tenancy.OrgID,
			"project_id": tenancy.ProjectID,
			"subject_id": tenancy.SubjectID,
		}).
		OrderBy("created_at DESC")
	if status != "" {
		query = query.Where(sq.Eq{"status": string(status)})
	}
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	var rows []docRow
	if err := pgxscan.Select(ctx, s.pool, &rows, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("postgres store: query candidates: %w", err)
	}
	out := make([]*memcore.CaptureCandidate, 0, len(rows))
	for _, row := range rows {
		var c memcore.CaptureCandidate
		if err := json.Unmarshal(row.Doc, &c); err != nil {
			return nil, fmt.Errorf("postgres store: decode candidate: %w", err)
		}
		out = append(out, &c)
	}
	return out, nil
}

func (s *PostgresStore) EnqueueGraphJob(ctx context.Context, orgID, projectID string, memoryID core.ID) error {
	now := time.Now()
	stmt := fmt.Sprintf(`INSERT INTO %s
		(id, org_id, project_id, memory_id, status, attempts, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, '', $5, $5)
		ON CONFLICT (memory_id) DO UPDATE
		SET status = 'pending', attempts = 0, error = '', updated_at = $5`, graphJobsTable)
	if _, err := s.pool.Exec(ctx, stmt, core.MustNewID().String(), orgID, projectID, memoryID.String(), now); err != nil {
		return fmt.Errorf("postgres store: enqueue graph job: %w", err)
	}
	return nil
}

// staleRunningCutoff is how long a running job may sit untouched before it
// counts as orphaned by a dead process and becomes claimable again.
const staleRunningCutoff = "5 minutes"

// claimGraphJobStmt selects the next claimable job: pending rows, error rows
// under the attempt cap, and running rows orphaned past the staleness
// cutoff (a crashed worker never completes them).
func claimGraphJobStmt() string {
	return fmt.Sprintf(`UPDATE %s SET status = 'running', attempts = attempts + 1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM %s
			WHERE status = 'pending'
				OR (status = 'error' AND attempts < $1)
				OR (status = 'running' AND attempts < $1 AND updated_at < NOW() - INTERVAL '%s')
			ORDER BY updated_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, org_id, project_id, memory_id, status, attempts, error, created_at, updated_at`,
		graphJobsTable, graphJobsTable, staleRunningCutoff)
}

func (s *PostgresStore) ClaimNextGraphJob(ctx context.Context, maxAttempts int) (*memcore.GraphJob, error) {
	row := s.pool.QueryRow(ctx, claimGraphJobStmt(), maxAttempts)
	var job memcore.GraphJob
	var id, memoryID string
	err := row.Scan(&id, &job.OrgID, &job.ProjectID, &memoryID, &job.Status,
		&job.Attempts, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: claim graph job: %w", err)
	}
	job.ID = core.ID(id)
	job.MemoryID = core.ID(memoryID)
	return &job, nil
}

func (s *PostgresStore) CompleteGraphJob(
	ctx context.Context,
	id core.ID,
	status memcore.GraphJobStatus,
	errMsg string,
) error {
	sqlStr, args, err := s.sb.Update(graphJobsTable).
		Set("status", string(status)).
		Set("error", errMsg).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("postgres store: complete graph job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpsertGraphEntity(
	ctx context.Context,
	orgID, projectID, entity string,
	memoryID core.ID,
	seenAt time.Time,
) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (org_id, project_id, entity, memory_ids, last_seen_at)
		VALUES ($1, $2, $3, ARRAY[$4], $5)
		ON CONFLICT (org_id, project_id, entity) DO UPDATE
		SET memory_ids = (
			SELECT ARRAY(SELECT DISTINCT unnest(%s.memory_ids || $4))
		),
		last_seen_at = GREATEST(%s.last_seen_at, $5)`, entitiesTable, entitiesTable, entitiesTable)
	if _, err := s.pool.Exec(ctx, stmt, orgID, projectID, entity, memoryID.String(), seenAt); err != nil {
		return fmt.Errorf("postgres store: upsert graph entity: %w", err)
	}
	return nil
}

func (s *PostgresStore) EntitiesForMemories(
	ctx context.Context,
	orgID, projectID string,
	ids []core.ID,
	limit int,
) ([]*memcore.GraphEntity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	stmt := fmt.Sprintf(`SELECT org_id, project_id, entity, memory_ids, last_seen_at FROM %s
		WHERE org_id = $1 AND project_id = $2 AND memory_ids && $3
		ORDER BY last_seen_at DESC
		LIMIT $4`, entitiesTable)
	rows, err := s.pool.Query(ctx, stmt, orgID, projectID, raw, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query graph entities: %w", err)
	}
	defer rows.Close()
	var out []*memcore.GraphEntity
	for rows.Next() {
		var entity memcore.GraphEntity
		var memIDs []string
		if err := rows.Scan(&entity.OrgID, &entity.ProjectID, &entity.Entity, &memIDs, &entity.LastSeenAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan graph entity: %w", err)
		}
		entity.MemoryIDs = make([]core.ID, len(memIDs))
		for i, id := range memIDs {
			entity.MemoryIDs[i] = core.ID(id)
		}
		out = append(out, &entity)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}
