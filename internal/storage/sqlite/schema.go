package sqlite

// Schema contains the SQL statements to create the database schema.
// Embeddings are stored inline on the memories row as little-endian float32
// BLOBs; the brute-force similarity scan reads them all in one pass.
const Schema = `
-- Memories table: extracted, typed memories with observation and feedback counters
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    category TEXT,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    source_excerpt TEXT,
    evidence TEXT, -- JSON array of excerpts accumulated across merges

    -- Embedding over content (little-endian float32 BLOB)
    embedding BLOB,
    embedding_dim INTEGER NOT NULL DEFAULT 0,
    embedding_pending INTEGER NOT NULL DEFAULT 0,

    confidence_score REAL NOT NULL DEFAULT 0,
    reasoning TEXT,

    times_observed INTEGER NOT NULL DEFAULT 1,
    first_observed_at TIMESTAMP NOT NULL,
    last_observed_at TIMESTAMP NOT NULL,

    recall_count INTEGER NOT NULL DEFAULT 0,
    positive_feedback INTEGER NOT NULL DEFAULT 0,
    negative_feedback INTEGER NOT NULL DEFAULT 0,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
CREATE INDEX IF NOT EXISTS idx_memories_last_observed ON memories(last_observed_at);
CREATE INDEX IF NOT EXISTS idx_memories_pending ON memories(embedding_pending);

-- Entities table: canonical names with alias sets, unique slug
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    slug TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    canonical_name TEXT NOT NULL,
    aliases TEXT, -- JSON array
    linked_contact_id TEXT,
    linked_project_id TEXT,
    metadata TEXT, -- JSON object
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(canonical_name COLLATE NOCASE);

-- Occurrence join rows: entity mention within a memory
CREATE TABLE IF NOT EXISTS entity_occurrences (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    memory_id TEXT NOT NULL,
    context TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_occurrences_entity ON entity_occurrences(entity_id);
CREATE INDEX IF NOT EXISTS idx_occurrences_memory ON entity_occurrences(memory_id);

-- Recall attribution: which memory was surfaced for which query
CREATE TABLE IF NOT EXISTS recalls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    memory_id TEXT NOT NULL,
    query_text TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_recalls_memory ON recalls(memory_id);

-- Feedback event log (audit trail; counters on memories are the contract)
CREATE TABLE IF NOT EXISTS feedback_events (
    id TEXT PRIMARY KEY,
    memory_id TEXT NOT NULL,
    session_id TEXT,
    query_text TEXT,
    polarity TEXT NOT NULL,
    score REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_feedback_memory ON feedback_events(memory_id);
`
