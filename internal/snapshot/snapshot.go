package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/osslup/internal/store"
)

// Phase distinguishes the pre-mutation and post-mutation captures of a run.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// ManifestEntry records one file captured into a snapshot archive.
type ManifestEntry struct {
	Path   string      `json:"path"`   // original absolute path
	Member string      `json:"member"` // name inside the archive
	SHA256 string      `json:"sha256"`
	Size   int64       `json:"size"`
	Mode   os.FileMode `json:"mode"`
}

// Snapshot is a captured archive of the files a run may touch.
type Snapshot struct {
	RunID       string          `json:"run_id"`
	Phase       Phase           `json:"phase"`
	CreatedAt   time.Time       `json:"created_at"`
	ArchivePath string          `json:"archive_path"`
	Manifest    []ManifestEntry `json:"manifest"`
}

// Manager owns the snapshot archive directory. It is the only writer; the
// rollback advisor only reads from it.
type Manager struct {
	log zerolog.Logger
	dir string
	st  *store.Store
}

// New creates a snapshot Manager writing archives under dir.
// st may be nil, in which case captures are not recorded in the audit store.
func New(log zerolog.Logger, dir string, st *store.Store) *Manager {
	return &Manager{log: log, dir: dir, st: st}
}

// archivePath is deterministic from run id and phase, so a rerun with the
// same run id overwrites rather than duplicates.
func (m *Manager) archivePath(runID string, phase Phase) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s-%s.tar.gz", runID, phase))
}

func (m *Manager) manifestPath(runID string, phase Phase) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s-%s.manifest.json", runID, phase))
}

// Capture builds a compressed archive of every existing path in the
// candidate set. Missing paths are skipped, not errors: a partial system
// (library not yet installed) still produces a valid, restorable snapshot.
func (m *Manager) Capture(runID string, phase Phase, paths []string) (*Snapshot, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	snap := &Snapshot{
		RunID:     runID,
		Phase:     phase,
		CreatedAt: time.Now().UTC(),
	}

	// Write to a temp file first so an interrupted capture never leaves a
	// half-written archive under the deterministic name.
	tmp, err := os.CreateTemp(m.dir, "capture-*.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				m.log.Debug().Str("path", p).Msg("snapshot candidate missing, skipped")
				continue
			}
			tw.Close()
			gz.Close()
			tmp.Close()
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if info.IsDir() {
			continue
		}

		entry, err := addFile(tw, p, info)
		if err != nil {
			tw.Close()
			gz.Close()
			tmp.Close()
			return nil, fmt.Errorf("failed to archive %s: %w", p, err)
		}
		snap.Manifest = append(snap.Manifest, entry)
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		tmp.Close()
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}

	snap.ArchivePath = m.archivePath(runID, phase)
	if err := os.Rename(tmp.Name(), snap.ArchivePath); err != nil {
		return nil, fmt.Errorf("failed to place archive: %w", err)
	}

	if err := m.writeManifest(snap); err != nil {
		return nil, err
	}

	if m.st != nil {
		rec := &store.SnapshotRecord{
			RunID:       runID,
			Phase:       string(phase),
			ArchivePath: snap.ArchivePath,
			FileCount:   len(snap.Manifest),
			CreatedAt:   snap.CreatedAt,
		}
		if _, err := m.st.InsertSnapshot(rec); err != nil {
			return nil, fmt.Errorf("failed to record snapshot: %w", err)
		}
	}

	m.log.Info().
		Str("runId", runID).
		Str("phase", string(phase)).
		Int("files", len(snap.Manifest)).
		Str("archive", snap.ArchivePath).
		Msg("snapshot captured")

	return snap, nil
}

// Load reads a previously captured snapshot's manifest.
func (m *Manager) Load(runID string, phase Phase) (*Snapshot, error) {
	data, err := os.ReadFile(m.manifestPath(runID, phase))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot manifest: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot manifest: %w", err)
	}

	return &snap, nil
}

func (m *Manager) writeManifest(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(m.manifestPath(snap.RunID, snap.Phase), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// addFile streams one file into the archive, hashing it as it goes.
func addFile(tw *tar.Writer, path string, info os.FileInfo) (ManifestEntry, error) {
	member := memberName(path)

	hdr := &tar.Header{
		Name:    member,
		Mode:    int64(info.Mode().Perm()),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return ManifestEntry{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return ManifestEntry{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tw, h), f); err != nil {
		return ManifestEntry{}, err
	}

	return ManifestEntry{
		Path:   path,
		Member: member,
		SHA256: hex.EncodeToString(h.Sum(nil)),
		Size:   info.Size(),
		Mode:   info.Mode().Perm(),
	}, nil
}

// memberName converts an absolute path to a rooted-relative archive member
// name ("C:\x\y" and "/x/y" both become "x/y").
func memberName(path string) string {
	s := strings.ReplaceAll(path, `\`, "/")
	if len(s) > 1 && s[1] == ':' {
		s = s[2:]
	}
	return strings.TrimPrefix(s, "/")
}
