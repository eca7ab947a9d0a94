package queue

// Sync queue queries
const (
	insertQueueItemQuery = `
		INSERT INTO sync_queue (
			id, entity_type, entity_id, operation, payload,
			retry_count, last_retry_at, failed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, NULL, 0, ?, ?)
	`

	selectPendingBatchQuery = `
		SELECT id, entity_type, entity_id, operation, payload,
		       retry_count, last_retry_at, failed, created_at, updated_at
		FROM sync_queue
		WHERE failed = 0
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`

	selectFailedItemsQuery = `
		SELECT id, entity_type, entity_id, operation, payload,
		       retry_count, last_retry_at, failed, created_at, updated_at
		FROM sync_queue
		WHERE failed = 1
		ORDER BY created_at ASC, id ASC
	`

	deleteQueueItemQuery = `
		DELETE FROM sync_queue WHERE id = ?
	`

	markFailedAttemptQuery = `
		UPDATE sync_queue
		SET retry_count = retry_count + 1,
		    last_retry_at = ?,
		    failed = CASE WHEN retry_count + 1 >= ? THEN 1 ELSE 0 END
		WHERE id = ?
	`

	markTerminalQuery = `
		UPDATE sync_queue
		SET retry_count = retry_count + 1,
		    last_retry_at = ?,
		    failed = 1
		WHERE id = ?
	`

	selectItemStateQuery = `
		SELECT retry_count, failed FROM sync_queue WHERE id = ?
	`

	countByFailedQuery = `
		SELECT
			COUNT(CASE WHEN failed = 0 THEN 1 END),
			COUNT(CASE WHEN failed = 1 THEN 1 END)
		FROM sync_queue
	`

	deleteFailedItemsQuery = `
		DELETE FROM sync_queue WHERE failed = 1
	`
)
