package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/osslup/internal/strategy"
)

func sumOf(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func TestFetchWithChecksum(t *testing.T) {
	body := []byte("openssl source tarball")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/openssl-3.2.0.tar.gz":
			w.Write(body)
		case "/openssl-3.2.0.tar.gz.sha256":
			fmt.Fprintf(w, "%s  openssl-3.2.0.tar.gz\n", sumOf(body))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "openssl-3.2.0.tar.gz")
	f := newFetcher(5 * time.Second)
	err := f.fetch(context.Background(), strategy.Step{
		URL:         srv.URL + "/openssl-3.2.0.tar.gz",
		ChecksumURL: srv.URL + "/openssl-3.2.0.tar.gz.sha256",
		Dest:        dest,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetchWithoutChecksumSidecar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "payload.tar.gz")
	f := newFetcher(5 * time.Second)
	err := f.fetch(context.Background(), strategy.Step{URL: srv.URL, Dest: dest})
	require.NoError(t, err)
	assert.FileExists(t, dest)
}

func TestFetchChecksumMismatchRemovesDest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/file.sha256" {
			fmt.Fprintf(w, "%s  file\n", sumOf([]byte("something else")))
			return
		}
		w.Write([]byte("actual body"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file")
	f := newFetcher(5 * time.Second)
	err := f.fetch(context.Background(), strategy.Step{
		URL:         srv.URL + "/file",
		ChecksumURL: srv.URL + "/file.sha256",
		Dest:        dest,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.NoFileExists(t, dest, "mismatched download must not be retained")
}

func TestFetchBadStatusRemovesDest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file")
	f := newFetcher(5 * time.Second)
	err := f.fetch(context.Background(), strategy.Step{URL: srv.URL, Dest: dest})
	require.Error(t, err)
	assert.NoFileExists(t, dest)
}

func TestExpectedChecksumParsesFirstDigest(t *testing.T) {
	digest := sumOf([]byte("x"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "SHA256(openssl-3.2.0.tar.gz)= %s\n", digest)
	}))
	defer srv.Close()

	f := newFetcher(5 * time.Second)
	got, err := f.expectedChecksum(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, digest, got)
}

func TestExpectedChecksumNoDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "not a checksum file")
	}))
	defer srv.Close()

	f := newFetcher(5 * time.Second)
	_, err := f.expectedChecksum(context.Background(), srv.URL)
	require.Error(t, err)
}
