package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/blackwell-systems/osslup/internal/strategy"
)

// fetcher downloads source archives with checksum verification. Any failure
// — network, HTTP status, checksum mismatch — removes the destination file:
// there is no partial-file fallback.
type fetcher struct {
	client *http.Client
}

func newFetcher(timeout time.Duration) *fetcher {
	return &fetcher{client: &http.Client{Timeout: timeout}}
}

func (f *fetcher) fetch(ctx context.Context, step strategy.Step) error {
	sum, err := f.download(ctx, step.URL, step.Dest)
	if err != nil {
		os.Remove(step.Dest)
		return err
	}

	if step.ChecksumURL == "" {
		return nil
	}

	want, err := f.expectedChecksum(ctx, step.ChecksumURL)
	if err != nil {
		os.Remove(step.Dest)
		return fmt.Errorf("failed to fetch checksum: %w", err)
	}
	if !strings.EqualFold(sum, want) {
		os.Remove(step.Dest)
		return fmt.Errorf("checksum mismatch: got %s, want %s", sum, want)
	}

	return nil
}

// download streams url into dest, returning the SHA-256 of the body.
func (f *fetcher) download(ctx context.Context, url, dest string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: unexpected status %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(out, h), resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("download interrupted: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// expectedChecksum fetches and parses a .sha256 sidecar; the first
// 64-character hex token is the digest.
func (f *fetcher) expectedChecksum(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}

	for _, tok := range strings.Fields(string(body)) {
		if len(tok) == 64 {
			if _, err := hex.DecodeString(tok); err == nil {
				return strings.ToLower(tok), nil
			}
		}
	}

	return "", fmt.Errorf("no digest found in checksum file")
}
