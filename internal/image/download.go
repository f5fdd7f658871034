package image

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DownloadOptions configures image download behavior
type DownloadOptions struct {
	OutputDir         string // Directory to save images
	OverwriteExisting bool   // Whether to overwrite existing files
	MaxSizeBytes      int64  // Maximum file size to download (0 = no limit)
}

// DefaultDownloadOptions returns sensible defaults for image downloads
func DefaultDownloadOptions() *DownloadOptions {
	return &DownloadOptions{
		OutputDir:    "./images",
		MaxSizeBytes: 10 * 1024 * 1024, // 10MB
	}
}

// Downloader handles image downloads from search results
type Downloader struct {
	searcher Searcher
	options  *DownloadOptions
}

// NewDownloader creates a new image downloader
func NewDownloader(searcher Searcher, options *DownloadOptions) *Downloader {
	if options == nil {
		options = DefaultDownloadOptions()
	}
	return &Downloader{
		searcher: searcher,
		options:  options,
	}
}

// DownloadImage downloads a single image to the specified path. When the
// provider requires attribution, it is written to a sibling
// *_attribution.txt file.
func (d *Downloader) DownloadImage(ctx context.Context, result *SearchResult, outputPath string) error {
	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if !d.options.OverwriteExisting {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("file already exists: %s", outputPath)
		}
	}

	reader, err := d.searcher.Download(ctx, result.URL)
	if err != nil {
		return fmt.Errorf("failed to download image: %w", err)
	}
	defer reader.Close()

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if d.options.MaxSizeBytes > 0 {
		written, err := io.CopyN(file, reader, d.options.MaxSizeBytes)
		if err != nil && err != io.EOF {
			os.Remove(outputPath)
			return fmt.Errorf("failed to write file: %w", err)
		}
		if written == d.options.MaxSizeBytes {
			// One extra byte tells us whether the image was truncated.
			if _, err := reader.Read(make([]byte, 1)); err != io.EOF {
				os.Remove(outputPath)
				return fmt.Errorf("image exceeds maximum size of %d bytes", d.options.MaxSizeBytes)
			}
		}
	} else {
		if _, err := io.Copy(file, reader); err != nil {
			os.Remove(outputPath)
			return fmt.Errorf("failed to write file: %w", err)
		}
	}

	if attribution := d.searcher.GetAttribution(result); attribution != "" {
		attrPath := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + "_attribution.txt"
		if err := os.WriteFile(attrPath, []byte(attribution), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save attribution: %v\n", err)
		}
	}

	return nil
}

// DownloadBestMatch searches with the given options and downloads the first
// result that can be fetched, returning the result and the written path.
func (d *Downloader) DownloadBestMatch(ctx context.Context, opts *SearchOptions, baseName string) (*SearchResult, string, error) {
	searchOpts := *opts
	searchOpts.PerPage = 5

	results, err := d.searcher.Search(ctx, &searchOpts)
	if err != nil {
		return nil, "", fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		return nil, "", fmt.Errorf("no images found for query: %s", opts.Query)
	}

	for i, result := range results {
		outputPath := filepath.Join(d.options.OutputDir, d.fileName(baseName, &result))
		if err := d.DownloadImage(ctx, &result, outputPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to download image %d: %v\n", i+1, err)
			continue
		}
		return &result, outputPath, nil
	}

	return nil, "", fmt.Errorf("failed to download any images for query: %s", opts.Query)
}

func (d *Downloader) fileName(baseName string, result *SearchResult) string {
	ext := filepath.Ext(result.URL)
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}
	return sanitizeFileName(baseName) + ext
}

// sanitizeFileName replaces characters that are problematic in filenames
func sanitizeFileName(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	sanitized := replacer.Replace(name)
	if len(sanitized) > 80 {
		sanitized = sanitized[:80]
	}
	return sanitized
}
