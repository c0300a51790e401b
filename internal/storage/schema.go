// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// Schema creates the alert tables.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    pet_id TEXT NOT NULL,
    pet_name TEXT NOT NULL DEFAULT '',
    rule_id TEXT NOT NULL,
    rule_name TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    severity INTEGER NOT NULL,          -- 1 low .. 4 critical
    message TEXT NOT NULL DEFAULT '',
    recommendations TEXT,               -- JSON array
    data TEXT,                          -- JSON object
    created_at INTEGER NOT NULL,        -- Unix nanoseconds
    updated_at INTEGER NOT NULL,
    status TEXT NOT NULL,               -- active, resolved
    acknowledged INTEGER NOT NULL DEFAULT 0,
    acknowledged_at INTEGER,
    resolved_at INTEGER,
    resolution_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_alerts_pet ON alerts(pet_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_resolved_at ON alerts(resolved_at);

-- At most one active alert per (pet, rule).
CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_active_pair
    ON alerts(pet_id, rule_id) WHERE status = 'active';
`
