package models

import "time"

// MemoryRecord is one entry in the backend-agnostic memory contract
// consumed by internal/memory (§3, §4.I). Embedding is nil when a
// backend does not vectorize this record's content type.
type MemoryRecord struct {
	ID          MemoryId  `json:"id"`
	ContentType string    `json:"content_type"`
	Content     string    `json:"content"`
	SessionID   SessionId `json:"session_id,omitempty"`

	// Subject/Predicate identify the fact this record asserts (e.g.
	// subject="user.timezone", predicate="is") so find_contradictions
	// can locate prior records making a conflicting claim about the
	// same subject+predicate pair (§4.I).
	Subject   string `json:"subject,omitempty"`
	Predicate string `json:"predicate,omitempty"`

	// SupersededBy is set once another record has superseded this one
	// (§4.I supersede); the record is retained, not deleted.
	SupersededBy MemoryId `json:"superseded_by,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastAccessAt time.Time `json:"last_access_at"`
	AccessCount  int       `json:"access_count"`

	// Confidence is in [0,1]; validated at the memory boundary.
	Confidence float64 `json:"confidence"`
	Citation   string  `json:"citation,omitempty"`

	// Embedding dimension is fixed per-store; nil when the backend
	// doesn't vectorize this record.
	Embedding []float32 `json:"embedding,omitempty"`
}

// MemoryFilter narrows a List/Count call.
type MemoryFilter struct {
	SessionID   SessionId `json:"session_id,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
}

// MemoryQuery parameterizes a vector/keyword search through the
// memory façade.
type MemoryQuery struct {
	Text      string    `json:"text"`
	SessionID SessionId `json:"session_id,omitempty"`
	Limit     int       `json:"limit"`
	Threshold float64   `json:"threshold"`
}

// MemorySearchResult pairs a record with its similarity score.
type MemorySearchResult struct {
	Record MemoryRecord `json:"record"`
	Score  float64      `json:"score"`
}
