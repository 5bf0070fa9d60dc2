package model

import "time"

type BackupStatus string

const (
	BackupStatusUploading BackupStatus = "uploading"
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusFailed    BackupStatus = "failed"
)

// Backup describes one encrypted document snapshot uploaded to object storage.
type Backup struct {
	Key       string       `json:"key"`
	Revision  int64        `json:"revision"`
	SizeBytes int64        `json:"size_bytes"`
	Status    BackupStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}
