package migrations

// Schemas are embedded rather than loaded from disk so the edge agent can
// initialize its queue database from any working directory.

// EdgeSchema holds the durable sync queue on the device.
const EdgeSchema = `
CREATE TABLE IF NOT EXISTS sync_queue (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL CHECK (entity_type IN ('ROUND', 'SHOT')),
    entity_id TEXT NOT NULL,
    operation TEXT NOT NULL CHECK (operation IN ('CREATE', 'UPDATE', 'DELETE')),
    payload TEXT NOT NULL DEFAULT '',
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_retry_at TIMESTAMP,
    failed INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sync_queue_pending
    ON sync_queue(failed, created_at);

CREATE TRIGGER IF NOT EXISTS update_sync_queue_timestamp
    AFTER UPDATE ON sync_queue
BEGIN
    UPDATE sync_queue SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;
`

// CloudSchema holds the system of record plus conflict log, device registry
// and per-device sync watermarks.
const CloudSchema = `
CREATE TABLE IF NOT EXISTS entities (
    entity_type TEXT NOT NULL CHECK (entity_type IN ('ROUND', 'SHOT')),
    entity_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    device_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (entity_type, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_entities_account
    ON entities(account_id, entity_type, updated_at);

CREATE TABLE IF NOT EXISTS sync_conflicts (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    resolution_strategy TEXT NOT NULL,
    conflict_data TEXT NOT NULL,
    loser_device_id TEXT NOT NULL,
    loser_updated_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (entity_type, entity_id, loser_device_id, loser_updated_at)
);

CREATE INDEX IF NOT EXISTS idx_sync_conflicts_account
    ON sync_conflicts(account_id, resolved_at);

CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    device_id TEXT NOT NULL,
    device_type TEXT NOT NULL,
    device_name TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '',
    last_sync_at TIMESTAMP,
    last_active_at TIMESTAMP NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (account_id, device_id)
);

CREATE TABLE IF NOT EXISTS device_sync_log (
    device_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    direction TEXT NOT NULL CHECK (direction IN ('TO_CLOUD', 'FROM_CLOUD')),
    synced_at TIMESTAMP NOT NULL,
    PRIMARY KEY (device_id, entity_type, entity_id, direction)
);

CREATE INDEX IF NOT EXISTS idx_device_sync_log_device
    ON device_sync_log(device_id, entity_type, direction);
`
