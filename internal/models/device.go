package models

import "time"

type DeviceType string

const (
	DeviceTypeARGlasses     DeviceType = "AR_GLASSES"
	DeviceTypeMobileIOS     DeviceType = "MOBILE_IOS"
	DeviceTypeMobileAndroid DeviceType = "MOBILE_ANDROID"
	DeviceTypeWeb           DeviceType = "WEB"
)

// DeviceRecord is the identity and sync state of one device under one
// account. (accountId, deviceId) is unique; re-registration refreshes
// metadata and reactivates instead of duplicating.
type DeviceRecord struct {
	ID           string     `json:"id" db:"id"`
	AccountID    string     `json:"accountId" db:"account_id"`
	DeviceID     string     `json:"deviceId" db:"device_id"`
	DeviceType   DeviceType `json:"deviceType" db:"device_type"`
	DeviceName   string     `json:"deviceName,omitempty" db:"device_name"`
	Metadata     string     `json:"metadata,omitempty" db:"metadata"`
	LastSyncAt   *time.Time `json:"lastSyncAt" db:"last_sync_at"`
	LastActiveAt time.Time  `json:"lastActiveAt" db:"last_active_at"`
	IsActive     bool       `json:"isActive" db:"is_active"`
}

// DeviceSyncLogEntry records that an entity has been delivered to a device
// in one direction. (deviceId, entityType, entityId, direction) is unique;
// re-delivery only advances SyncedAt.
type DeviceSyncLogEntry struct {
	DeviceID   string        `json:"deviceId" db:"device_id"`
	EntityType EntityType    `json:"entityType" db:"entity_type"`
	EntityID   string        `json:"entityId" db:"entity_id"`
	Direction  SyncDirection `json:"direction" db:"direction"`
	SyncedAt   time.Time     `json:"syncedAt" db:"synced_at"`
}

// PendingEntity is one row of an entitiesToSync delta: an entity whose
// latest update has not yet been delivered to the requesting device.
type PendingEntity struct {
	EntityID  string    `json:"entityId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeviceSyncStatus summarizes how far one device has converged.
type DeviceSyncStatus struct {
	TotalRounds   int `json:"totalRounds"`
	SyncedRounds  int `json:"syncedRounds"`
	PendingRounds int `json:"pendingRounds"`
	TotalShots    int `json:"totalShots"`
	SyncedShots   int `json:"syncedShots"`
	PendingShots  int `json:"pendingShots"`
}
