package engineconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/veilnet/realityd/internal/atomicfile"
	"github.com/veilnet/realityd/internal/secrets"
)

const backupSuffix = ".bak"

// encryptFunc/decryptFunc wrap the at-rest protection for backups; tests
// override them to run without a settings database.
var (
	encryptFunc = secrets.Encrypt
	decryptFunc = secrets.Decrypt
)

// BackupInfo describes one retained snapshot.
type BackupInfo struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Store persists the engine configuration document and its backups.
type Store struct {
	path      string
	backupDir string
}

func NewStore(path, backupDir string) *Store {
	return &Store{path: path, backupDir: backupDir}
}

func (s *Store) Path() string { return s.path }

// Load reads and validates the live document. A missing or malformed file
// is an error; nothing downstream ever sees a half-valid config.
func (s *Store) Load() (*PrimaryConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("engineconfig: read %s: %w", s.path, err)
	}
	return Parse(data)
}

// Save atomically replaces the live document. A reader (or a crash) at any
// point observes either the fully old or fully new file.
func (s *Store) Save(cfg *PrimaryConfig) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := atomicfile.Write(s.path, data, 0644); err != nil {
		return fmt.Errorf("engineconfig: write %s: %w", s.path, err)
	}
	return nil
}

// Backup snapshots cfg into the backup directory, encrypted at rest since
// the snapshot embeds the active private key.
func (s *Store) Backup(cfg *PrimaryConfig) (*BackupInfo, error) {
	data, err := cfg.Marshal()
	if err != nil {
		return nil, err
	}
	enc, err := encryptFunc(data)
	if err != nil {
		return nil, fmt.Errorf("engineconfig: encrypt backup: %w", err)
	}

	if err := os.MkdirAll(s.backupDir, 0700); err != nil {
		return nil, fmt.Errorf("engineconfig: create backup dir: %w", err)
	}

	now := time.Now().UTC()
	name := fmt.Sprintf("config-%s-%09d%s", now.Format("20060102-150405"), now.Nanosecond(), backupSuffix)
	if err := atomicfile.Write(filepath.Join(s.backupDir, name), enc, 0600); err != nil {
		return nil, fmt.Errorf("engineconfig: write backup: %w", err)
	}
	return &BackupInfo{Name: name, Timestamp: now, Size: int64(len(enc))}, nil
}

// ListBackups returns retained snapshots, newest first.
func (s *Store) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("engineconfig: read backup dir: %w", err)
	}

	var infos []BackupInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), backupSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, BackupInfo{Name: e.Name(), Timestamp: fi.ModTime().UTC(), Size: fi.Size()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name > infos[j].Name })
	return infos, nil
}

// RestoreBackup decrypts and validates the named snapshot, then atomically
// installs it as the live document. This is the operator's recovery path
// when an apply went wrong after a rotation.
func (s *Store) RestoreBackup(name string) (*PrimaryConfig, error) {
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("engineconfig: invalid backup name %q", name)
	}
	enc, err := os.ReadFile(filepath.Join(s.backupDir, name))
	if err != nil {
		return nil, fmt.Errorf("engineconfig: read backup: %w", err)
	}
	data, err := decryptFunc(enc)
	if err != nil {
		return nil, fmt.Errorf("engineconfig: decrypt backup: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("engineconfig: backup %s: %w", name, err)
	}
	if err := atomicfile.Write(s.path, data, 0644); err != nil {
		return nil, fmt.Errorf("engineconfig: restore %s: %w", name, err)
	}
	return cfg, nil
}
