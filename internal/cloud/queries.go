package cloud

// System-of-record queries
const (
	selectEntityForUpdateQuery = `
		SELECT device_id, payload, updated_at
		FROM entities
		WHERE entity_type = ? AND entity_id = ?
	`

	insertEntityQuery = `
		INSERT INTO entities (entity_type, entity_id, account_id, device_id, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	updateEntityQuery = `
		UPDATE entities
		SET account_id = ?, device_id = ?, payload = ?, updated_at = ?
		WHERE entity_type = ? AND entity_id = ?
	`

	deleteEntityQuery = `
		DELETE FROM entities WHERE entity_type = ? AND entity_id = ?
	`

	selectEntityQuery = `
		SELECT entity_type, entity_id, account_id, device_id, payload, updated_at
		FROM entities
		WHERE entity_type = ? AND entity_id = ?
	`
)

// Conflict log queries
const (
	insertConflictQuery = `
		INSERT OR IGNORE INTO sync_conflicts (
			id, account_id, entity_type, entity_id, resolution_strategy,
			conflict_data, loser_device_id, loser_updated_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectConflictsByAccountQuery = `
		SELECT id, account_id, entity_type, entity_id, resolution_strategy,
		       conflict_data, resolved_at
		FROM sync_conflicts
		WHERE account_id = ?
		ORDER BY resolved_at DESC
		LIMIT ? OFFSET ?
	`

	countConflictsQuery = `
		SELECT COUNT(*) FROM sync_conflicts WHERE account_id = ?
	`
)

// Device registry queries
const (
	upsertDeviceQuery = `
		INSERT INTO devices (
			id, account_id, device_id, device_type, device_name, metadata,
			last_active_at, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (account_id, device_id) DO UPDATE SET
			device_type = excluded.device_type,
			device_name = excluded.device_name,
			metadata = excluded.metadata,
			last_active_at = excluded.last_active_at,
			is_active = 1,
			updated_at = CURRENT_TIMESTAMP
	`

	selectDeviceQuery = `
		SELECT id, account_id, device_id, device_type, device_name, metadata,
		       last_sync_at, last_active_at, is_active
		FROM devices
		WHERE account_id = ? AND device_id = ?
	`

	selectDevicesByAccountQuery = `
		SELECT id, account_id, device_id, device_type, device_name, metadata,
		       last_sync_at, last_active_at, is_active
		FROM devices
		WHERE account_id = ? AND is_active = 1
		ORDER BY last_active_at DESC
	`

	deactivateDeviceQuery = `
		UPDATE devices
		SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND device_id = ?
	`

	touchDeviceSyncQuery = `
		UPDATE devices
		SET last_sync_at = ?, last_active_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND device_id = ?
	`
)

// Device sync watermark queries
const (
	upsertSyncLogQuery = `
		INSERT INTO device_sync_log (device_id, entity_type, entity_id, direction, synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (device_id, entity_type, entity_id, direction) DO UPDATE SET
			synced_at = excluded.synced_at
	`

	selectEntitiesToSyncQuery = `
		SELECT e.entity_id, e.updated_at
		FROM entities e
		LEFT JOIN device_sync_log l
			ON l.device_id = ?
			AND l.entity_type = e.entity_type
			AND l.entity_id = e.entity_id
			AND l.direction = 'FROM_CLOUD'
		WHERE e.account_id = ?
			AND e.entity_type = ?
			AND (l.synced_at IS NULL OR e.updated_at > l.synced_at)
		ORDER BY e.updated_at DESC
	`

	selectEntitiesToSyncSinceQuery = `
		SELECT e.entity_id, e.updated_at
		FROM entities e
		LEFT JOIN device_sync_log l
			ON l.device_id = ?
			AND l.entity_type = e.entity_type
			AND l.entity_id = e.entity_id
			AND l.direction = 'FROM_CLOUD'
		WHERE e.account_id = ?
			AND e.entity_type = ?
			AND (l.synced_at IS NULL OR e.updated_at > l.synced_at)
			AND e.updated_at > ?
		ORDER BY e.updated_at DESC
	`

	countEntitiesByAccountQuery = `
		SELECT COUNT(*) FROM entities WHERE account_id = ? AND entity_type = ?
	`

	countSyncedEntitiesQuery = `
		SELECT COUNT(*)
		FROM device_sync_log l
		JOIN entities e
			ON e.entity_type = l.entity_type AND e.entity_id = l.entity_id
		WHERE l.device_id = ? AND l.entity_type = ? AND l.direction = 'FROM_CLOUD'
			AND e.account_id = ?
	`
)
