package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultMaxArchiveBytes caps a boundary archive download. The largest
// national TIGER layers are a few hundred megabytes.
const DefaultMaxArchiveBytes = 1 << 30

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
	// MaxBytes rejects archives larger than this; 0 uses DefaultMaxArchiveBytes.
	MaxBytes int64
}

// FTPFetcher downloads files over anonymous FTP (ftp2.census.gov mirrors the
// TIGER and cartographic boundary trees).
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = DefaultMaxArchiveBytes
	}
	return &FTPFetcher{opts: opts}
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("fetcher: empty path in ftp url")
	}

	return host, path, nil
}

// ftpConnReader closes the FTP response and the connection together. size
// is the server-reported length, or -1 when SIZE is unsupported.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
	size int64
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetcher: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetcher: quit ftp connection")
	}
	return nil
}

// Download connects to the FTP server, retrieves the file, and returns a reader.
// The caller must close the returned ReadCloser to release the FTP connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("fetcher: ftp connecting", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: ftp dial")
	}

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "fetcher: ftp login")
	}

	size, err := conn.FileSize(path)
	if err != nil {
		zap.L().Debug("fetcher: ftp size unavailable", zap.String("path", path), zap.Error(err))
		size = -1
	}
	if err := checkArchiveSize(path, -1, size, f.opts.MaxBytes); err != nil {
		_ = conn.Quit()
		return nil, err
	}

	resp, err := conn.Retr(path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "fetcher: ftp retrieve")
	}

	return &ftpConnReader{resp: resp, conn: conn, size: size}, nil
}

// DownloadToFile downloads the FTP URL to a local file. Returns bytes
// written. A transfer that is empty, over MaxBytes, or differs from the
// server-reported size is removed and reported as an error.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, ftpURL string, path string) (int64, error) {
	rc, err := f.Download(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	want := int64(-1)
	if cr, ok := rc.(*ftpConnReader); ok {
		want = cr.size
	}
	return f.writeArchive(ftpURL, path, rc, want)
}

// writeArchive copies r to path, reading at most one byte past MaxBytes,
// and checks the result against want.
func (f *FTPFetcher) writeArchive(name, path string, r io.Reader, want int64) (int64, error) {
	n, err := writeFile(path, io.LimitReader(r, f.opts.MaxBytes+1))
	if err != nil {
		return n, err
	}
	if err := checkArchiveSize(name, n, want, f.opts.MaxBytes); err != nil {
		_ = os.Remove(path)
		return n, err
	}
	return n, nil
}

// checkArchiveSize validates a boundary archive length. got is the number
// of bytes received (-1 before the transfer); want is the server-reported
// size (-1 when unknown).
func checkArchiveSize(name string, got, want, limit int64) error {
	switch {
	case want > limit:
		return eris.Errorf("fetcher: %s is %d bytes, over the %d byte limit", name, want, limit)
	case got > limit:
		return eris.Errorf("fetcher: %s exceeds the %d byte limit", name, limit)
	case got == 0:
		return eris.Errorf("fetcher: %s: empty archive", name)
	case got > 0 && want >= 0 && got != want:
		return eris.Errorf("fetcher: %s: short transfer, got %d of %d bytes", name, got, want)
	}
	return nil
}
