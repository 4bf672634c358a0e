package assets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"escrow_go/internal/engine"
	"escrow_go/internal/infra"

	"github.com/disintegration/imaging"
)

// Fetcher downloads and caches listing thumbnails.
// It only observes the ledger; a failed fetch is logged and never retried.
type Fetcher struct {
	basePath    string
	urlTemplate string
	size        int
	client      *http.Client

	sem     chan struct{}
	wg      sync.WaitGroup
	onSaved func(itemID, path string)
	log     *slog.Logger
}

// NewFetcher creates a Fetcher writing size x size PNGs under dir.
// urlTemplate must contain "{item}". onSaved may be nil.
func NewFetcher(dir, urlTemplate string, size, concurrency int, onSaved func(itemID, path string)) (*Fetcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create assets directory: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	// Optimize HTTP Transport to prevent connection leaks
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &Fetcher{
		basePath:    dir,
		urlTemplate: urlTemplate,
		size:        size,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
		sem:     make(chan struct{}, concurrency),
		onSaved: onSaved,
		log:     slog.Default().With(slog.String("module", "thumbnails")),
	}, nil
}

// Observe schedules a download for listings created by the commit.
// Safe to register with Sequencer.OnCommit: it never blocks.
func (f *Fetcher) Observe(ctx context.Context, c engine.Commit) {
	if !c.Created {
		return
	}
	itemID := c.Listing.ItemID

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		select {
		case <-ctx.Done():
			return
		case f.sem <- struct{}{}: // Acquire
		}
		defer func() { <-f.sem }() // Release

		path, err := f.Fetch(ctx, itemID)
		if err != nil {
			f.log.Warn("Failed to fetch thumbnail", slog.String("item", itemID), slog.Any("error", err))
			return
		}
		if f.onSaved != nil {
			f.onSaved(itemID, path)
		}
	}()
}

// Wait blocks until every scheduled download has finished.
func (f *Fetcher) Wait() {
	f.wg.Wait()
}

// Fetch downloads the thumbnail for an item if it isn't cached yet.
// Returns the local file path on success
func (f *Fetcher) Fetch(ctx context.Context, itemID string) (string, error) {
	// Security: Sanitize item id to prevent path traversal
	safeID := sanitizeItemID(itemID)
	if safeID == "" {
		return "", fmt.Errorf("invalid item id: %q", itemID)
	}

	filePath := f.Path(safeID)

	// Check if exists
	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil // Cache Hit
	}

	src := strings.ReplaceAll(f.urlTemplate, "{item}", url.PathEscape(itemID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	srcImg, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	// Fit into a square with high-quality Lanczos filter
	thumb := imaging.Fill(srcImg, f.size, f.size, imaging.Center, imaging.Lanczos)

	if err := imaging.Save(thumb, filePath); err != nil {
		return "", fmt.Errorf("failed to save thumbnail: %w", err)
	}

	return filePath, nil
}

// Path returns the local path for an item's thumbnail
func (f *Fetcher) Path(itemID string) string {
	return filepath.Join(f.basePath, sanitizeItemID(itemID)+".png")
}

func sanitizeItemID(itemID string) string {
	res := make([]rune, 0, len(itemID))
	for _, r := range itemID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			res = append(res, r)
		}
	}
	return string(res)
}
