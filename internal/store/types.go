package store

// Session represents a coding session with start/end timestamps.
type Session struct {
	ID        string  `json:"id"`
	Project   string  `json:"project"`
	Directory string  `json:"directory"`
	StartedAt string  `json:"started_at"`
	EndedAt   *string `json:"ended_at,omitempty"`
	Summary   *string `json:"summary,omitempty"`
	Status    string  `json:"status"`
}

// Session status values. A session is active until it is completed
// (normal end) or failed (error end); completed_at (EndedAt) is only
// ever set once status leaves "active".
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// SessionSummary is a compact session view with observation count.
type SessionSummary struct {
	ID               string  `json:"id"`
	Project          string  `json:"project"`
	StartedAt        string  `json:"started_at"`
	EndedAt          *string `json:"ended_at,omitempty"`
	Summary          *string `json:"summary,omitempty"`
	ObservationCount int     `json:"observation_count"`
}

// Observation is a single memory entry — a decision, pattern, bug fix, etc.
type Observation struct {
	ID             int64   `json:"id"`
	SessionID      string  `json:"session_id"`
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	Content        string  `json:"content"`
	ToolName       *string `json:"tool_name,omitempty"`
	Project        *string `json:"project,omitempty"`
	Scope          string  `json:"scope"`
	TopicKey       *string `json:"topic_key,omitempty"`
	RevisionCount  int     `json:"revision_count"`
	DuplicateCount int     `json:"duplicate_count"`
	LastSeenAt     *string `json:"last_seen_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
	DeletedAt      *string `json:"deleted_at,omitempty"`
	PromptNumber   int     `json:"prompt_number"`
}

// AddObservationParams holds the input for creating a new observation.
type AddObservationParams struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	ToolName  string `json:"tool_name,omitempty"`
	Project   string `json:"project,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TopicKey  string `json:"topic_key,omitempty"`
}

// UpdateObservationParams holds partial update fields for an observation.
type UpdateObservationParams struct {
	Type     *string `json:"type,omitempty"`
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	Project  *string `json:"project,omitempty"`
	Scope    *string `json:"scope,omitempty"`
	TopicKey *string `json:"topic_key,omitempty"`
}

// SearchResult embeds an Observation with an FTS5 rank score.
type SearchResult struct {
	Observation
	Rank float64 `json:"rank"`
}

// SearchOptions holds filters for FTS5 search queries.
type SearchOptions struct {
	Type      string `json:"type,omitempty"`
	Project   string `json:"project,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	DateStart string `json:"date_start,omitempty"`
	DateEnd   string `json:"date_end,omitempty"`
}

// TimelineEntry is an observation in a timeline window with a focus flag.
type TimelineEntry struct {
	Observation
	IsFocus bool `json:"is_focus"`
}

// TimelineResult holds the progressive-disclosure window around a focus observation.
type TimelineResult struct {
	Focus        Observation     `json:"focus"`
	Before       []TimelineEntry `json:"before"`
	After        []TimelineEntry `json:"after"`
	Prompts      []Prompt        `json:"prompts"`
	SessionInfo  *Session        `json:"session_info"`
	TotalInRange int             `json:"total_in_range"`
}

// Relation is a typed directional edge between two observations.
type Relation struct {
	ID        int64  `json:"id"`
	FromID    int64  `json:"from_id"`
	ToID      int64  `json:"to_id"`
	Type      string `json:"type"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at"`
}

// AddRelationParams holds input for creating a new relation.
type AddRelationParams struct {
	FromID        int64  `json:"from_id"`
	ToID          int64  `json:"to_id"`
	Type          string `json:"type"`
	Note          string `json:"note,omitempty"`
	Bidirectional bool   `json:"bidirectional,omitempty"`
}

// ContextNode is one node in a knowledge-graph traversal result.
type ContextNode struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Type         string `json:"type"`
	Project      string `json:"project,omitempty"`
	CreatedAt    string `json:"created_at"`
	RelationType string `json:"relation_type"`
	Direction    string `json:"direction"`
	Note         string `json:"note,omitempty"`
	Depth        int    `json:"depth"`
}

// ContextResult holds the full graph traversal output.
type ContextResult struct {
	Root       Observation   `json:"root"`
	Connected  []ContextNode `json:"connected"`
	TotalNodes int           `json:"total_nodes"`
	MaxDepth   int           `json:"max_depth"`
}

// Prompt is a saved user prompt.
type Prompt struct {
	ID           int64  `json:"id"`
	SessionID    string `json:"session_id"`
	Content      string `json:"content"`
	Project      string `json:"project,omitempty"`
	PromptNumber int    `json:"prompt_number"`
	CreatedAt    string `json:"created_at"`
}

// AddPromptParams holds the input for saving a user prompt.
type AddPromptParams struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Project   string `json:"project,omitempty"`
}

// Vector is a stored embedding for an observation.
type Vector struct {
	ObservationID int64
	Project       string
	Model         string
	Dims          int
	Embedding     []float32
	CreatedAt     string
}

// Stats holds aggregate memory statistics.
type Stats struct {
	TotalSessions     int      `json:"total_sessions"`
	TotalObservations int      `json:"total_observations"`
	TotalPrompts      int      `json:"total_prompts"`
	TotalMemories     int      `json:"total_memories"`
	TotalVectors      int      `json:"total_vectors"`
	Projects          []string `json:"projects"`
}

// Memory is a durable, curated knowledge item surfaced to future
// sessions via context injection — distinct from the raw observation
// stream, which records everything as it happens.
type Memory struct {
	ID        int64          `json:"id"`
	Project   string         `json:"project"`
	SessionID *string        `json:"session_id,omitempty"`
	Content   string         `json:"content"`
	Summary   *string        `json:"summary,omitempty"`
	Type      string         `json:"type"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// AddMemoryParams holds the input for saving a new memory.
type AddMemoryParams struct {
	Project   string         `json:"project"`
	SessionID string         `json:"session_id,omitempty"`
	Content   string         `json:"content"`
	Summary   string         `json:"summary,omitempty"`
	Type      string         `json:"type,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Summary is the five-field session digest maintained by the session
// lifecycle: at most one per session, written when the session ends.
type Summary struct {
	ID           string `json:"id"`
	SessionID    string `json:"session_id"`
	Request      string `json:"request,omitempty"`
	Investigated string `json:"investigated,omitempty"`
	Learned      string `json:"learned,omitempty"`
	Completed    string `json:"completed,omitempty"`
	NextSteps    string `json:"next_steps,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// ExportData is the full serializable dump of the memory database.
type ExportData struct {
	Version      string        `json:"version"`
	ExportedAt   string        `json:"exported_at"`
	Sessions     []Session     `json:"sessions"`
	Observations []Observation `json:"observations"`
	Prompts      []Prompt      `json:"prompts"`
}

// ImportResult holds counts of imported records.
type ImportResult struct {
	SessionsImported     int `json:"sessions_imported"`
	ObservationsImported int `json:"observations_imported"`
	PromptsImported      int `json:"prompts_imported"`
}
