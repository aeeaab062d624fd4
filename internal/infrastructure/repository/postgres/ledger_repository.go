package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
)

const (
	feedbackDecayLambda = 0.1
	feedbackTanhScale   = 10.0
	millisPerDay        = 86400000.0
)

// LedgerRepository is the durable evidence ledger: queries, hops, per-hop
// documents, responses and evidence chains, with foreign keys enforced.
type LedgerRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *LedgerRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026080501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS queries (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	timestamp BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS hops (
	id TEXT PRIMARY KEY,
	query_id TEXT NOT NULL REFERENCES queries(id),
	hop_order INTEGER NOT NULL CHECK (hop_order >= 0),
	sub_query TEXT NOT NULL,
	reasoning TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending'
);

CREATE TABLE IF NOT EXISTS hop_documents (
	id TEXT PRIMARY KEY,
	hop_id TEXT NOT NULL REFERENCES hops(id),
	document_id TEXT NOT NULL,
	dense_score DOUBLE PRECISION NOT NULL,
	sparse_score DOUBLE PRECISION NOT NULL,
	rank_position INTEGER NOT NULL CHECK (rank_position >= 1)
);

CREATE TABLE IF NOT EXISTS responses (
	id TEXT PRIMARY KEY,
	query_id TEXT NOT NULL REFERENCES queries(id),
	content TEXT NOT NULL,
	timestamp BIGINT NOT NULL,
	user_feedback INTEGER NOT NULL DEFAULT 0,
	user_correction TEXT
);

CREATE TABLE IF NOT EXISTS evidence_chains (
	id TEXT PRIMARY KEY,
	response_id TEXT NOT NULL REFERENCES responses(id),
	hop_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	document_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queries_text ON queries(text);
CREATE INDEX IF NOT EXISTS idx_hops_query_id ON hops(query_id);
CREATE INDEX IF NOT EXISTS idx_hops_status ON hops(status);
CREATE INDEX IF NOT EXISTS idx_hop_documents_hop_id ON hop_documents(hop_id);
CREATE INDEX IF NOT EXISTS idx_hop_documents_document_id ON hop_documents(document_id);
CREATE INDEX IF NOT EXISTS idx_responses_query_id ON responses(query_id);
CREATE INDEX IF NOT EXISTS idx_evidence_chains_response_id ON evidence_chains(response_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *LedgerRepository) LogQuery(ctx context.Context, rec domain.QueryRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO queries (id, text, timestamp)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING
`, rec.ID, rec.Text, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

func (r *LedgerRepository) LogHop(ctx context.Context, rec domain.HopRecord) error {
	status := rec.Status
	if status == "" {
		status = domain.HopPending
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO hops (id, query_id, hop_order, sub_query, reasoning, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
`, rec.ID, rec.QueryID, rec.HopOrder, rec.SubQuery, rec.Reasoning, string(status))
	if err != nil {
		return fmt.Errorf("insert hop: %w", err)
	}
	return nil
}

func (r *LedgerRepository) LogHopDocument(ctx context.Context, rec domain.HopDocumentRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO hop_documents (id, hop_id, document_id, dense_score, sparse_score, rank_position)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
`, rec.ID, rec.HopID, rec.DocumentID, rec.DenseScore, rec.SparseScore, rec.RankPosition)
	if err != nil {
		return fmt.Errorf("insert hop document: %w", err)
	}
	return nil
}

func (r *LedgerRepository) LogResponse(ctx context.Context, rec domain.ResponseRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO responses (id, query_id, content, timestamp, user_feedback, user_correction)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
`, rec.ID, rec.QueryID, rec.Content, rec.Timestamp, rec.UserFeedback, nullableString(rec.UserCorrection))
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (r *LedgerRepository) LogEvidenceChain(ctx context.Context, rec domain.EvidenceChainRecord) error {
	hopIDs, err := json.Marshal(emptyIfNil(rec.HopIDs))
	if err != nil {
		return fmt.Errorf("marshal hop ids: %w", err)
	}
	documentIDs, err := json.Marshal(emptyIfNil(rec.DocumentIDs))
	if err != nil {
		return fmt.Errorf("marshal document ids: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO evidence_chains (id, response_id, hop_ids, document_ids, confidence_score)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING
`, rec.ID, rec.ResponseID, hopIDs, documentIDs, rec.ConfidenceScore)
	if err != nil {
		return fmt.Errorf("insert evidence chain: %w", err)
	}
	return nil
}

// SetResponseFeedback finalises the feedback value on a response. A second
// submission overwrites the first; the value never returns to zero because
// only -1/+1 reach this method.
func (r *LedgerRepository) SetResponseFeedback(ctx context.Context, responseID string, feedback int, correction string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE responses
SET user_feedback = $2, user_correction = COALESCE(NULLIF($3, ''), user_correction)
WHERE id = $1
`, responseID, feedback, correction)
	if err != nil {
		return fmt.Errorf("update response feedback: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("response feedback rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrResponseNotFound, "update response feedback", fmt.Errorf("id=%s", responseID))
	}
	return nil
}

// DocumentGlobalScore aggregates feedback over every response transitively
// linked to the document and applies time decay:
// tanh(raw/10) * exp(-0.1 * age_days).
// Each response counts once even when several hops of its run surfaced the
// same document, hence the DISTINCT inner select.
func (r *LedgerRepository) DocumentGlobalScore(ctx context.Context, documentID string) (float64, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(fb.user_feedback), 0), COALESCE(MAX(fb.timestamp), 0)
FROM (
	SELECT DISTINCT r.id, r.user_feedback, r.timestamp
	FROM hop_documents hd
	JOIN hops h ON h.id = hd.hop_id
	JOIN responses r ON r.query_id = h.query_id
	WHERE hd.document_id = $1 AND r.user_feedback <> 0
) fb
`, documentID)

	var count int
	var raw int64
	var lastTime int64
	if err := row.Scan(&count, &raw, &lastTime); err != nil {
		return 0, fmt.Errorf("scan document feedback: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	ageDays := float64(r.now().UnixMilli()-lastTime) / millisPerDay
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Tanh(float64(raw)/feedbackTanhScale) * math.Exp(-feedbackDecayLambda*ageDays), nil
}

// SuccessfulTemplate returns the hop breakdown of the most recent prior
// query with identical text whose response was upvoted.
func (r *LedgerRepository) SuccessfulTemplate(ctx context.Context, queryText string) ([]domain.TemplateStep, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT q.id
FROM queries q
JOIN responses r ON r.query_id = q.id
WHERE q.text = $1 AND r.user_feedback = 1
ORDER BY r.timestamp DESC
LIMIT 1
`, queryText)

	var queryID string
	if err := row.Scan(&queryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan successful query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT hop_order, sub_query, reasoning
FROM hops
WHERE query_id = $1
ORDER BY hop_order ASC, id ASC
`, queryID)
	if err != nil {
		return nil, fmt.Errorf("list template hops: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TemplateStep, 0, 4)
	for rows.Next() {
		var step domain.TemplateStep
		if err := rows.Scan(&step.HopOrder, &step.SubQuery, &step.Reasoning); err != nil {
			return nil, fmt.Errorf("scan template hop: %w", err)
		}
		out = append(out, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template hops: %w", err)
	}
	return out, nil
}

// ChainHops loads the hops of a response's evidence chain together with the
// combined dense+sparse score of every document each hop surfaced.
func (r *LedgerRepository) ChainHops(ctx context.Context, responseID string) ([]domain.ChainHop, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT h.id, h.hop_order, h.sub_query, hd.dense_score, hd.sparse_score
FROM evidence_chains ec
JOIN hops h ON h.id IN (SELECT jsonb_array_elements_text(ec.hop_ids))
LEFT JOIN hop_documents hd ON hd.hop_id = h.id
WHERE ec.response_id = $1
ORDER BY h.hop_order ASC, h.id ASC, hd.rank_position ASC
`, responseID)
	if err != nil {
		return nil, fmt.Errorf("list chain hops: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ChainHop, 0, 4)
	for rows.Next() {
		var hopID, subQuery string
		var hopOrder int
		var dense, sparse sql.NullFloat64
		if err := rows.Scan(&hopID, &hopOrder, &subQuery, &dense, &sparse); err != nil {
			return nil, fmt.Errorf("scan chain hop: %w", err)
		}

		if len(out) == 0 || out[len(out)-1].HopID != hopID {
			out = append(out, domain.ChainHop{
				HopID:    hopID,
				HopOrder: hopOrder,
				SubQuery: subQuery,
			})
		}
		if dense.Valid && sparse.Valid {
			last := &out[len(out)-1]
			last.DocScores = append(last.DocScores, dense.Float64+sparse.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chain hops: %w", err)
	}
	return out, nil
}

func (r *LedgerRepository) MarkHopFailed(ctx context.Context, hopID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE hops
SET status = $2
WHERE id = $1
`, hopID, string(domain.HopFailed))
	if err != nil {
		return fmt.Errorf("mark hop failed: %w", err)
	}
	return nil
}

func (r *LedgerRepository) Stats(ctx context.Context) (*domain.FeedbackStats, error) {
	stats := &domain.FeedbackStats{
		TopFailedQueries: []domain.FailedSubQuery{},
		TopNegativeDocs:  []domain.DocumentFeedback{},
	}

	row := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*) FILTER (WHERE user_feedback = 1),
	COUNT(*) FILTER (WHERE user_feedback = -1)
FROM responses
`)
	if err := row.Scan(&stats.PositiveFeedback, &stats.NegativeFeedback); err != nil {
		return nil, fmt.Errorf("scan feedback counts: %w", err)
	}
	stats.TotalFeedback = stats.PositiveFeedback + stats.NegativeFeedback

	failedRows, err := r.db.QueryContext(ctx, `
SELECT sub_query, COUNT(*)
FROM hops
WHERE status = 'failed'
GROUP BY sub_query
ORDER BY COUNT(*) DESC, sub_query ASC
LIMIT 5
`)
	if err != nil {
		return nil, fmt.Errorf("list failed sub-queries: %w", err)
	}
	defer failedRows.Close()
	for failedRows.Next() {
		var entry domain.FailedSubQuery
		if err := failedRows.Scan(&entry.SubQuery, &entry.Count); err != nil {
			return nil, fmt.Errorf("scan failed sub-query: %w", err)
		}
		stats.TopFailedQueries = append(stats.TopFailedQueries, entry)
	}
	if err := failedRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed sub-queries: %w", err)
	}

	docRows, err := r.db.QueryContext(ctx, `
SELECT hd.document_id, COUNT(*)
FROM hop_documents hd
JOIN hops h ON h.id = hd.hop_id
JOIN responses r ON r.query_id = h.query_id
WHERE r.user_feedback = -1
GROUP BY hd.document_id
ORDER BY COUNT(*) DESC, hd.document_id ASC
LIMIT 5
`)
	if err != nil {
		return nil, fmt.Errorf("list negative documents: %w", err)
	}
	defer docRows.Close()
	for docRows.Next() {
		var entry domain.DocumentFeedback
		if err := docRows.Scan(&entry.DocumentID, &entry.Count); err != nil {
			return nil, fmt.Errorf("scan negative document: %w", err)
		}
		stats.TopNegativeDocs = append(stats.TopNegativeDocs, entry)
	}
	if err := docRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate negative documents: %w", err)
	}

	return stats, nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func emptyIfNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
