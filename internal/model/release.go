package model

import "time"

// SoftwareRelease is a downloadable desktop build. MinLicense gates access:
// the requesting user's best active tier must rank at or above it.
type SoftwareRelease struct {
	ID            int64     `json:"id"`
	Version       string    `json:"version"`
	Platform      string    `json:"platform"`
	MinLicense    Tier      `json:"min_license"`
	S3Key         string    `json:"-"`
	SizeBytes     int64     `json:"size_bytes"`
	DownloadCount int64     `json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type DownloadLog struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ReleaseID int64     `json:"release_id"`
	CreatedAt time.Time `json:"created_at"`
}
