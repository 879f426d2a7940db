package store

import (
	"database/sql"
	"fmt"

	"github.com/snaprolabs/snapro/internal/model"
)

type ReleaseStore struct {
	db *sql.DB
}

func NewReleaseStore(db *sql.DB) *ReleaseStore {
	return &ReleaseStore{db: db}
}

func scanRelease(scanner interface{ Scan(...any) error }) (*model.SoftwareRelease, error) {
	var r model.SoftwareRelease
	err := scanner.Scan(
		&r.ID, &r.Version, &r.Platform, &r.MinLicense, &r.S3Key,
		&r.SizeBytes, &r.DownloadCount, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const releaseCols = `id, version, platform, min_license, s3_key, size_bytes, download_count, created_at`

func (s *ReleaseStore) Create(version, platform string, minLicense model.Tier, s3Key string, sizeBytes int64) (*model.SoftwareRelease, error) {
	result, err := s.db.Exec(
		`INSERT INTO releases (version, platform, min_license, s3_key, size_bytes) VALUES (?, ?, ?, ?, ?)`,
		version, platform, minLicense, s3Key, sizeBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("insert release: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ReleaseStore) GetByID(id int64) (*model.SoftwareRelease, error) {
	row := s.db.QueryRow(`SELECT `+releaseCols+` FROM releases WHERE id = ?`, id)
	r, err := scanRelease(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get release: %w", err)
	}
	return r, nil
}

// Latest returns the newest release for a platform, or the newest overall
// when platform is empty.
func (s *ReleaseStore) Latest(platform string) (*model.SoftwareRelease, error) {
	var row *sql.Row
	if platform == "" {
		row = s.db.QueryRow(`SELECT ` + releaseCols + ` FROM releases ORDER BY created_at DESC, id DESC LIMIT 1`)
	} else {
		row = s.db.QueryRow(`SELECT `+releaseCols+` FROM releases WHERE platform = ? ORDER BY created_at DESC, id DESC LIMIT 1`, platform)
	}
	r, err := scanRelease(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest release: %w", err)
	}
	return r, nil
}

// LogDownload records a download and bumps the release counter in a single
// transaction so the two rows cannot drift apart.
func (s *ReleaseStore) LogDownload(userID, releaseID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO download_logs (user_id, release_id) VALUES (?, ?)`,
		userID, releaseID,
	); err != nil {
		return fmt.Errorf("insert download log: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE releases SET download_count = download_count + 1 WHERE id = ?`,
		releaseID,
	); err != nil {
		return fmt.Errorf("increment download count: %w", err)
	}
	return tx.Commit()
}
