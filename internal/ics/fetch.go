package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "calstream/internal/log"
	"calstream/internal/model"
)

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier (e.g., config ICS ID).
	ID string
	// URL is the ICS endpoint, or a local file path.
	URL string
}

// cacheMeta holds HTTP cache metadata for a single ICS URL.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher retrieves ICS feeds and streams them straight into the parser,
// honoring ETag / Last-Modified with a disk-backed body cache. The parser
// never sees more than one chunk of the body at a time.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a new ICS Fetcher.
//
// cacheDir is the base directory where per-URL cache subdirectories and
// metadata will be stored.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		// Caller should set this explicitly; we fall back to a relative
		// dir so that development runs without root permissions.
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
	}
}

// ParseSource fetches one source and parses it in a single streaming pass.
// Local paths (no URL scheme) are read from disk. On a 304 or a network
// failure with a warm cache, the cached body is parsed instead.
func (f *Fetcher) ParseSource(ctx context.Context, src Source, opts Options) (*model.ParseResult, error) {
	if src.URL == "" {
		return nil, errors.New("source URL is empty")
	}
	opts.Source = src.ID

	if !strings.Contains(src.URL, "://") {
		return f.parseFile(ctx, src.URL, opts)
	}

	cachePath, err := f.cachePathForURL(src.URL)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return nil, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	bodyFile := filepath.Join(cachePath, "body.ics")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Info("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		appLog.Error("ics fetch network error", err, "id", src.ID, "url", redactURL(src.URL))
		return f.parseCached(ctx, bodyFile, opts, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Stream the body into the parser while teeing it to a temp
		// cache file; commit the cache only after a successful parse.
		tmp, err := os.CreateTemp(cachePath, ".body-*.tmp")
		if err != nil {
			return nil, err
		}
		tmpName := tmp.Name()
		defer os.Remove(tmpName)

		res := ParseReader(ctx, io.TeeReader(resp.Body, tmp), opts)

		if cerr := tmp.Close(); cerr == nil && res.Success {
			if err := os.Rename(tmpName, bodyFile); err == nil {
				f.saveCacheMeta(cachePath, cacheMeta{
					URL:          src.URL,
					ETag:         resp.Header.Get("ETag"),
					LastModified: resp.Header.Get("Last-Modified"),
				}, src)
			}
		}

		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL),
			"status", resp.StatusCode, "from_cache", false)
		return res, nil

	case http.StatusNotModified:
		appLog.Info("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return f.parseCached(ctx, bodyFile, opts,
			errors.New("received 304 Not Modified but no cached body available"))

	default:
		statusErr := errors.New(resp.Status)
		appLog.Error("ics fetch non-OK", statusErr, "id", src.ID,
			"url", redactURL(src.URL), "status", resp.StatusCode)
		return f.parseCached(ctx, bodyFile, opts, statusErr)
	}
}

func (f *Fetcher) parseFile(ctx context.Context, path string, opts Options) (*model.ParseResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseReader(ctx, file, opts), nil
}

// parseCached parses the cached body, or returns cause when no cache exists.
func (f *Fetcher) parseCached(ctx context.Context, bodyFile string, opts Options, cause error) (*model.ParseResult, error) {
	file, err := os.Open(bodyFile)
	if err != nil {
		return nil, fmt.Errorf("no cached body: %w", cause)
	}
	defer file.Close()
	return ParseReader(ctx, file, opts), nil
}

func (f *Fetcher) cachePathForURL(url string) (string, error) {
	if url == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as directory name.
	dir := hex.EncodeToString(sum[:8])
	return filepath.Join(f.cacheDir, dir), nil
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheMeta, error) {
	var meta cacheMeta
	metaFile := filepath.Join(cachePath, "meta.json")

	data, err := os.ReadFile(metaFile)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

func (f *Fetcher) saveCacheMeta(cachePath string, meta cacheMeta, src Source) {
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		appLog.Error("ics cache meta marshal failed", err, "id", src.ID)
		return
	}
	metaFile := filepath.Join(cachePath, "meta.json")
	if err := os.WriteFile(metaFile, data, 0o600); err != nil {
		appLog.Error("ics cache meta save failed", err, "id", src.ID, "url", redactURL(src.URL))
	}
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
func redactURL(u string) string {
	// Very simple redaction to avoid logging query strings / paths in full.
	// Example:
	//   https://example.com/path/to/private.ics?token=abcd
	// -> https://example.com/...(redacted)
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i + 3
	for j < len(u) && u[j] != '/' {
		j++
	}

	host := u[:j]
	return host + redactedSuffix
}
