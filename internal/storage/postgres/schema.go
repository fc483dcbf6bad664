package postgres

// Schema contains the base SQL statements for the PostgreSQL backend.
// All statements use IF NOT EXISTS so the schema is idempotent.
const Schema = `
-- Memories table: extracted, typed memories with observation and feedback counters
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    category TEXT,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    source_excerpt TEXT,
    evidence JSONB,

    -- Embedding over content (little-endian float32 bytes, mirrors the SQLite layout)
    embedding BYTEA,
    embedding_dim INTEGER NOT NULL DEFAULT 0,
    embedding_pending BOOLEAN NOT NULL DEFAULT FALSE,

    confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    reasoning TEXT,

    times_observed INTEGER NOT NULL DEFAULT 1,
    first_observed_at TIMESTAMPTZ NOT NULL,
    last_observed_at TIMESTAMPTZ NOT NULL,

    recall_count INTEGER NOT NULL DEFAULT 0,
    positive_feedback INTEGER NOT NULL DEFAULT 0,
    negative_feedback INTEGER NOT NULL DEFAULT 0,

    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    aliases JSONB,
    linked_contact_id TEXT,
    linked_project_id TEXT,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(LOWER(canonical_name));

-- Occurrence join rows: entity mention within a memory
CREATE TABLE IF NOT EXISTS entity_occurrences (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    context TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_occurrences_entity ON entity_occurrences(entity_id);
CREATE INDEX IF NOT EXISTS idx_occurrences_memory ON entity_occurrences(memory_id);

-- Recall attribution: which memory was surfaced for which query
CREATE TABLE IF NOT EXISTS recalls (
    id BIGSERIAL PRIMARY KEY,
    memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    query_text TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_recalls_memory ON recalls(memory_id);

-- Feedback event log (audit trail; counters on memories are the contract)
CREATE TABLE IF NOT EXISTS feedback_events (
    id TEXT PRIMARY KEY,
    memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    session_id TEXT,
    query_text TEXT,
    polarity TEXT NOT NULL,
    score DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_feedback_memory ON feedback_events(memory_id);
`

// MigrationPgvector adds the vector column used for in-database nearest
// neighbour queries. Applied only when the pgvector extension is available.
// The dimension is left unconstrained so mixed embedding models can coexist;
// the ivfflat index requires a fixed dimension and is created separately by
// operators who standardise on one model.
const MigrationPgvector = `
ALTER TABLE memories ADD COLUMN IF NOT EXISTS embedding_vec vector;
`
