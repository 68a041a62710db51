// Package fetcher retrieves roster files from local paths, HTTP(S) and FTP
// and parses CSV and XLSX sheets into header-addressed tables.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads a remote file.
type Fetcher interface {
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Options configures the remote fetchers.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// RateLimit caps HTTP requests per second per host. Zero means 5.
	RateLimit float64
}

// Open returns a reader for src, which is a local path or an http, https or
// ftp URL. The caller closes it.
func Open(ctx context.Context, src string, opts Options) (io.ReadCloser, error) {
	f, err := fetcherFor(src, opts)
	if err != nil {
		return nil, err
	}
	if f == nil {
		file, err := os.Open(src)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", src)
		}
		return file, nil
	}
	return f.Download(ctx, src)
}

// Fetch makes src available as a local file under dir and returns its path.
// Local paths are returned unchanged.
func Fetch(ctx context.Context, src, dir string, opts Options) (string, error) {
	f, err := fetcherFor(src, opts)
	if err != nil {
		return "", err
	}
	if f == nil {
		if _, err := os.Stat(src); err != nil {
			return "", eris.Wrapf(err, "fetcher: stat %s", src)
		}
		return src, nil
	}

	rc, err := f.Download(ctx, src)
	if err != nil {
		return "", err
	}
	defer rc.Close() //nolint:errcheck

	dest := filepath.Join(dir, localName(src))
	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: create %s", dest)
	}
	n, err := io.Copy(out, rc)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: write %s", dest)
	}

	zap.L().Debug("fetcher: downloaded", zap.String("src", src), zap.String("dest", dest), zap.Int64("bytes", n))
	return dest, nil
}

// fetcherFor returns nil for local paths.
func fetcherFor(src string, opts Options) (Fetcher, error) {
	scheme := ""
	if i := strings.Index(src, "://"); i > 0 {
		scheme = strings.ToLower(src[:i])
	}
	switch scheme {
	case "":
		return nil, nil
	case "http", "https":
		return NewHTTPFetcher(opts), nil
	case "ftp":
		return NewFTPFetcher(opts), nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", scheme)
	}
}

func localName(src string) string {
	name := "download"
	if u, err := url.Parse(src); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			name = base
		}
	}
	return name
}
