package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"golang.org/x/term"
)

const (
	maxRetries = 3

	// DefaultTimeout bounds one complete download including retries.
	DefaultTimeout = 30 * time.Minute
)

var downloadHTTPClient = http.DefaultClient

// retryDelay is the base backoff between attempts.
var retryDelay = 2 * time.Second

// Downloader fetches a single artifact to a local path.
type Downloader struct {
	Fs        afero.Fs
	UserAgent string
	Timeout   time.Duration
	// Progress draws a progress bar on stderr when it is a terminal.
	Progress bool
	// HTTPClient overrides the package default client.
	HTTPClient *http.Client
}

// New returns a downloader writing through fs (the OS filesystem when nil).
func New(fs afero.Fs) *Downloader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Downloader{Fs: fs, Timeout: DefaultTimeout}
}

func (d *Downloader) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return downloadHTTPClient
}

// DownloadToFile downloads url to destPath with retries and returns the
// number of bytes written. The body is written to destPath.tmp and renamed
// into place once complete, so destPath is never left half written.
func (d *Downloader) DownloadToFile(ctx context.Context, url, destPath string) (int64, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			logging.Debugf("Verbose: retrying download %s attempt=%d/%d\n", filepath.Base(destPath), attempt+1, maxRetries)
			select {
			case <-ctx.Done():
				return 0, apperr.New(apperr.Lookup, "download", ctx.Err())
			case <-time.After(time.Duration(attempt) * retryDelay):
			}
		}

		n, err := d.downloadOnce(ctx, url, destPath)
		if err == nil {
			logging.Debugf("Verbose: download complete file=%s size=%s\n", filepath.Base(destPath), humanize.IBytes(uint64(n)))
			return n, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func (d *Downloader) downloadOnce(ctx context.Context, url, destPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, apperr.New(apperr.Lookup, "create request", err)
	}
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return 0, apperr.New(apperr.Lookup, "download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apperr.Errorf(apperr.Lookup, "download", "HTTP %d", resp.StatusCode)
	}

	if resp.ContentLength > 0 {
		logging.Infof("Downloading %s (%s)\n", filepath.Base(destPath), humanize.IBytes(uint64(resp.ContentLength)))
	}

	fs := d.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, apperr.WithPath(apperr.Filesystem, "create directory", filepath.Dir(destPath), err)
	}

	tmpPath := destPath + ".tmp"
	f, err := fs.Create(tmpPath)
	if err != nil {
		return 0, apperr.WithPath(apperr.Filesystem, "create", tmpPath, err)
	}

	var w io.Writer = f
	if bar := d.progressBar(resp.ContentLength, filepath.Base(destPath)); bar != nil {
		defer bar.Close()
		w = io.MultiWriter(f, bar)
	}

	n, err := io.Copy(w, resp.Body)
	closeErr := f.Close()
	if err != nil {
		fs.Remove(tmpPath)
		return 0, apperr.New(apperr.Lookup, "download", fmt.Errorf("writing %s: %w", filepath.Base(destPath), err))
	}
	if closeErr != nil {
		fs.Remove(tmpPath)
		return 0, apperr.WithPath(apperr.Filesystem, "close", tmpPath, closeErr)
	}

	if err := fs.Rename(tmpPath, destPath); err != nil {
		fs.Remove(tmpPath)
		return 0, apperr.WithPath(apperr.Filesystem, "finalize", destPath, err)
	}
	return n, nil
}

func (d *Downloader) progressBar(size int64, name string) *progressbar.ProgressBar {
	if !d.Progress || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}
