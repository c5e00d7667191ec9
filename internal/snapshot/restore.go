package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// RestoreError reports a failed restore attempt. The restore target is left
// completely untouched when this is returned.
type RestoreError struct {
	Archive string
	Err     error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore from %s failed: %v", e.Archive, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// Restore extracts a snapshot back over its original paths.
// Semantics are all-or-nothing: every member is extracted into a staging
// directory and verified against the manifest first; live paths are only
// replaced after the whole archive has extracted successfully.
func (m *Manager) Restore(snap *Snapshot) error {
	f, err := os.Open(snap.ArchivePath)
	if err != nil {
		return &RestoreError{Archive: snap.ArchivePath, Err: fmt.Errorf("archive unreadable: %w", err)}
	}
	defer f.Close()

	staging, err := os.MkdirTemp(m.dir, "restore-*")
	if err != nil {
		return &RestoreError{Archive: snap.ArchivePath, Err: fmt.Errorf("failed to create staging directory: %w", err)}
	}
	defer os.RemoveAll(staging)

	if err := m.extractAll(f, snap, staging); err != nil {
		return &RestoreError{Archive: snap.ArchivePath, Err: err}
	}

	// Everything extracted and verified; now replace the live paths.
	for _, entry := range snap.Manifest {
		src := filepath.Join(staging, filepath.FromSlash(entry.Member))
		if err := installFile(src, entry.Path, entry.Mode); err != nil {
			return &RestoreError{Archive: snap.ArchivePath, Err: fmt.Errorf("failed to restore %s: %w", entry.Path, err)}
		}
	}

	m.log.Info().
		Str("runId", snap.RunID).
		Int("files", len(snap.Manifest)).
		Msg("snapshot restored")

	return nil
}

// extractAll unpacks every archive member into staging and verifies each
// against the manifest checksum. Any missing or corrupt member fails the
// whole restore before a single live path is touched.
func (m *Manager) extractAll(f *os.File, snap *Snapshot, staging string) error {
	byMember := make(map[string]ManifestEntry, len(snap.Manifest))
	for _, entry := range snap.Manifest {
		byMember[entry.Member] = entry
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("archive corrupt: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	extracted := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("archive corrupt: %w", err)
		}

		entry, ok := byMember[hdr.Name]
		if !ok {
			return fmt.Errorf("unexpected archive member %s", hdr.Name)
		}

		dst := filepath.Join(staging, filepath.FromSlash(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("failed to stage %s: %w", hdr.Name, err)
		}

		out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to stage %s: %w", hdr.Name, err)
		}

		h := sha256.New()
		_, err = io.Copy(io.MultiWriter(out, h), tr) //nolint:gosec // members are our own captures
		out.Close()
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
		}

		if sum := hex.EncodeToString(h.Sum(nil)); sum != entry.SHA256 {
			return fmt.Errorf("checksum mismatch for %s", hdr.Name)
		}
		extracted++
	}

	if extracted != len(snap.Manifest) {
		return fmt.Errorf("archive incomplete: %d of %d members present", extracted, len(snap.Manifest))
	}

	return nil
}

// installFile copies a staged file over its live path.
func installFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
