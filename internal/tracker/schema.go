package tracker

// tableName is the catalog table holding applied migrations.
const tableName = "schema_migrations"

// createSchemaSQL is the DDL for the schema_migrations catalog table.
const createSchemaSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
    name          TEXT PRIMARY KEY,
    script        TEXT NOT NULL,
    parent_names  TEXT[] NOT NULL DEFAULT '{}',
    generated_by  TEXT,
    applied_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    duration_ms   INTEGER NOT NULL DEFAULT 0
)`

// headSQL selects every migration no other migration names as its parent.
const headSQL = `SELECT m.name
 FROM schema_migrations m
 WHERE NOT EXISTS (
     SELECT 1 FROM schema_migrations c WHERE m.name = ANY(c.parent_names)
 )
 ORDER BY m.applied_at, m.name`
