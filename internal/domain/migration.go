package domain

import "time"

// Collection names a migrated ledger collection.
type Collection string

const (
	CollectionAccounts     Collection = "accounts"
	CollectionBuckets      Collection = "buckets"
	CollectionTransactions Collection = "transactions"
)

// MigrationStatus is the state of one collection's local-to-remote migration.
type MigrationStatus string

const (
	MigrationNotStarted MigrationStatus = "not_started"
	MigrationInProgress MigrationStatus = "in_progress"
	MigrationCompleted  MigrationStatus = "completed"
	MigrationSkipped    MigrationStatus = "skipped"
	MigrationFailed     MigrationStatus = "failed"
)

// Terminal reports whether no further transition happens in this run.
func (s MigrationStatus) Terminal() bool {
	return s == MigrationCompleted || s == MigrationSkipped || s == MigrationFailed
}

// MigrationRecord is the audit entry for one collection.
type MigrationRecord struct {
	Collection Collection      `json:"collection"`
	Status     MigrationStatus `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Migrated   int             `json:"migrated"`
	Dropped    int             `json:"dropped"`
	Error      string          `json:"error,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	// IDMap maps local ids to the remote ids they were inserted under.
	IDMap map[string]string `json:"idMap,omitempty"`
}

// MigrationJournal keeps the last record per collection.
type MigrationJournal map[Collection]MigrationRecord
