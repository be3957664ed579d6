package library

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ScanResult counts the outcome of a library scan.
type ScanResult struct {
	Imported int64 `json:"imported"`
	Failed   int64 `json:"failed"`
}

// Scan walks root and imports every supported file using a pool of workers.
// Cancelling ctx stops the walk and any import that has not begun.
func (im *Importer) Scan(ctx context.Context, root string, workers int) (ScanResult, error) {
	if workers < 1 {
		workers = 1
	}

	im.logger.WithField("library_path", root).Info("Scanning media library")

	var wg sync.WaitGroup
	var imported, failed atomic.Int64
	jobs := make(chan string, 100)

	// Start worker pool
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if _, err := im.ImportFile(ctx, path); err != nil {
					failed.Add(1)
					continue
				}
				imported.Add(1)
			}
		}()
	}

	// Walk directory and enqueue jobs
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !im.IsSupported(path) || isIgnored(path) {
			return nil
		}
		select {
		case jobs <- path:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	// Close jobs channel and wait for all workers
	close(jobs)
	wg.Wait()

	result := ScanResult{Imported: imported.Load(), Failed: failed.Load()}
	im.logger.WithField("imported", result.Imported).WithField("failed", result.Failed).Info("Library scan finished")
	return result, walkErr
}
