package domain

type HopStatus string

const (
	HopPending HopStatus = "pending"
	HopFailed  HopStatus = "failed"
)

// QueryRecord is created at the start of every knowledge-mode retrieval.
type QueryRecord struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type HopRecord struct {
	ID        string    `json:"id"`
	QueryID   string    `json:"query_id"`
	HopOrder  int       `json:"hop_order"`
	SubQuery  string    `json:"sub_query"`
	Reasoning string    `json:"reasoning"`
	Status    HopStatus `json:"status"`
}

// HopDocumentRecord records one document surfaced by one hop in rank order.
type HopDocumentRecord struct {
	ID           string  `json:"id"`
	HopID        string  `json:"hop_id"`
	DocumentID   string  `json:"document_id"`
	DenseScore   float64 `json:"dense_score"`
	SparseScore  float64 `json:"sparse_score"`
	RankPosition int     `json:"rank_position"`
}

type ResponseRecord struct {
	ID             string `json:"id"`
	QueryID        string `json:"query_id"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	UserFeedback   int    `json:"user_feedback"`
	UserCorrection string `json:"user_correction,omitempty"`
}

type EvidenceChainRecord struct {
	ID              string   `json:"id"`
	ResponseID      string   `json:"response_id"`
	HopIDs          []string `json:"hop_ids"`
	DocumentIDs     []string `json:"document_ids"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// TemplateStep is one hop of a previously successful decomposition.
type TemplateStep struct {
	HopOrder  int    `json:"hop_order"`
	SubQuery  string `json:"sub_query"`
	Reasoning string `json:"reasoning"`
}

// ChainHop is a hop joined with its per-document retrieval scores, used by
// the weakest-link diagnosis.
type ChainHop struct {
	HopID     string
	HopOrder  int
	SubQuery  string
	DocScores []float64
}

// FailedSubQuery aggregates hops marked failed by sub-query text.
type FailedSubQuery struct {
	SubQuery string `json:"sub_query"`
	Count    int    `json:"count"`
}

// DocumentFeedback aggregates negative-feedback associations per document.
type DocumentFeedback struct {
	DocumentID string `json:"document_id"`
	Count      int    `json:"count"`
}

// FeedbackStats backs the debug metrics endpoint.
type FeedbackStats struct {
	PositiveFeedback int                `json:"positive_feedback"`
	NegativeFeedback int                `json:"negative_feedback"`
	TotalFeedback    int                `json:"total_feedback"`
	TopFailedQueries []FailedSubQuery   `json:"top_failed_queries"`
	TopNegativeDocs  []DocumentFeedback `json:"top_negative_documents"`
}
