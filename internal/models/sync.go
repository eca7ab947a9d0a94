package models

import (
	"encoding/json"
	"time"
)

type EntityType string

const (
	EntityTypeRound EntityType = "ROUND"
	EntityTypeShot  EntityType = "SHOT"
)

func (e EntityType) Valid() bool {
	return e == EntityTypeRound || e == EntityTypeShot
}

type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

func (o Operation) Valid() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

type SyncDirection string

const (
	DirectionToCloud   SyncDirection = "TO_CLOUD"
	DirectionFromCloud SyncDirection = "FROM_CLOUD"
)

// QueueItem is a pending local mutation awaiting transmission to the cloud.
// Items leave the queue only through acknowledged success or by exhausting
// their retry budget, in which case they move to the terminal failed state
// and stay inspectable until explicit cleanup.
type QueueItem struct {
	ID          string     `db:"id"`
	EntityType  EntityType `db:"entity_type"`
	EntityID    string     `db:"entity_id"`
	Operation   Operation  `db:"operation"`
	Payload     string     `db:"payload"`
	RetryCount  int        `db:"retry_count"`
	LastRetryAt *time.Time `db:"last_retry_at"`
	Failed      bool       `db:"failed"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// SyncRecord is the wire form of one mutation pushed to the cloud apply
// endpoint. UpdatedAt is the producer's modification timestamp and drives
// last-write-wins resolution; DeviceID identifies the writer so concurrent
// edits from different devices can be told apart from re-deliveries.
type SyncRecord struct {
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Operation  Operation       `json:"operation"`
	AccountID  string          `json:"accountId"`
	DeviceID   string          `json:"deviceId"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Envelope   *Envelope       `json:"envelope,omitempty"`
}

// ApplyOutcome describes how the cloud resolved a single record.
type ApplyOutcome string

const (
	OutcomeApplied   ApplyOutcome = "applied"
	OutcomeDiscarded ApplyOutcome = "discarded"
	OutcomeDeleted   ApplyOutcome = "deleted"
	OutcomeNoop      ApplyOutcome = "noop"
	OutcomeRejected  ApplyOutcome = "rejected"
)

type ApplyResult struct {
	EntityID string       `json:"entityId"`
	Outcome  ApplyOutcome `json:"outcome"`
	Conflict bool         `json:"conflict"`
}

// SyncConflict is an append-only record of one last-write-wins decision.
type SyncConflict struct {
	ID                 string     `json:"id" db:"id"`
	AccountID          string     `json:"accountId" db:"account_id"`
	EntityType         EntityType `json:"entityType" db:"entity_type"`
	EntityID           string     `json:"entityId" db:"entity_id"`
	ResolutionStrategy string     `json:"resolutionStrategy" db:"resolution_strategy"`
	ConflictData       string     `json:"conflictData" db:"conflict_data"`
	ResolvedAt         time.Time  `json:"resolvedAt" db:"resolved_at"`
}

// ResolutionLastWriteWins is the only strategy this engine implements.
const ResolutionLastWriteWins = "last_write_wins"

// ConflictData captures both competing versions of an entity at resolution
// time. The winner is the version retained in the system of record.
type ConflictData struct {
	Winner ConflictVersion `json:"winner"`
	Loser  ConflictVersion `json:"loser"`
}

type ConflictVersion struct {
	DeviceID  string          `json:"deviceId"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// QueueStatus is the operational summary exposed by the edge agent.
type QueueStatus struct {
	Pending    int        `json:"pending"`
	Failed     int        `json:"failed"`
	LastSyncAt *time.Time `json:"lastSyncAt"`
}

// SyncStats reports the result of one drain pass.
type SyncStats struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
