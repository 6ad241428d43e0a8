package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// BackupRecordFile sits in the backup slot next to the copied files. It is
// not part of the backup manifest, so a restore never copies it back.
const BackupRecordFile = "backup.json"

// BackupRecord describes the contents of the backup slot.
type BackupRecord struct {
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	ServerRoot  string    `json:"server_root"`
	PackVersion string    `json:"pack_version,omitempty"`
	Items       []string  `json:"items"`
	Mods        int       `json:"mods"`
}

// LoadBackupRecord reads the record from backupRoot. It returns nil and no
// error when no backup has been recorded.
func LoadBackupRecord(fs afero.Fs, backupRoot string) (*BackupRecord, error) {
	path := filepath.Join(backupRoot, BackupRecordFile)
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup record: %w", err)
	}

	var rec BackupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing backup record: %w", err)
	}
	if rec.Items == nil {
		rec.Items = []string{}
	}
	return &rec, nil
}

// Save writes the record into backupRoot.
func (r *BackupRecord) Save(fs afero.Fs, backupRoot string) error {
	path := filepath.Join(backupRoot, BackupRecordFile)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling backup record: %w", err)
	}

	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("writing backup record: %w", err)
	}

	return nil
}
