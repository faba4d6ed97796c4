// Package fetcher downloads authority report files from the delivery
// server.
package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	User     string
	Password string
	Timeout  time.Duration
}

// Remote is an open connection to a report directory server.
type Remote interface {
	List(dir string) ([]*ftp.Entry, error)
	Open(file string) (io.ReadCloser, error)
	Close() error
}

// Dialer opens a Remote.
type Dialer func(ctx context.Context, host string, opts FTPOptions) (Remote, error)

// FTPFetcher copies new report files from an FTP directory.
type FTPFetcher struct {
	opts FTPOptions
	dial Dialer
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Password = "anonymous@"
	}
	return &FTPFetcher{opts: opts, dial: dialFTP}
}

// WithDialer replaces the connection factory.
func (f *FTPFetcher) WithDialer(d Dialer) *FTPFetcher {
	f.dial = d
	return f
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, dir string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	dir = u.Path
	if dir == "" {
		dir = "/"
	}

	return host, dir, nil
}

type ftpRemote struct {
	conn *ftp.ServerConn
}

func dialFTP(ctx context.Context, host string, opts FTPOptions) (Remote, error) {
	zap.L().Debug("ftp: connecting", zap.String("host", host))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ftp dial")
	}
	if err := conn.Login(opts.User, opts.Password); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "ftp login")
	}
	return &ftpRemote{conn: conn}, nil
}

func (r *ftpRemote) List(dir string) ([]*ftp.Entry, error) {
	entries, err := r.conn.List(dir)
	return entries, eris.Wrapf(err, "ftp list %s", dir)
}

func (r *ftpRemote) Open(file string) (io.ReadCloser, error) {
	resp, err := r.conn.Retr(file)
	if err != nil {
		return nil, eris.Wrapf(err, "ftp retrieve %s", file)
	}
	return resp, nil
}

func (r *ftpRemote) Close() error {
	return eris.Wrap(r.conn.Quit(), "quit ftp connection")
}

// FetchNew downloads every file in the remote directory that match accepts
// and that is not already present in localDir. It returns the local paths
// of the files downloaded, sorted by name.
func (f *FTPFetcher) FetchNew(ctx context.Context, remoteURL, localDir string, match func(name string) bool) ([]string, error) {
	host, dir, err := parseFTPURL(remoteURL)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "fetcher"), zap.String("host", host), zap.String("dir", dir))

	remote, err := f.dial(ctx, host, f.opts)
	if err != nil {
		return nil, err
	}
	defer remote.Close() //nolint:errcheck

	entries, err := remote.List(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var fetched []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return fetched, eris.Wrap(err, "ftp: fetch interrupted")
		}
		if e.Type != ftp.EntryTypeFile || (match != nil && !match(e.Name)) {
			continue
		}
		local := filepath.Join(localDir, filepath.Base(e.Name))
		if _, err := os.Stat(local); err == nil {
			continue
		}

		n, err := f.download(remote, path.Join(dir, e.Name), local)
		if err != nil {
			return fetched, err
		}
		log.Info("report downloaded", zap.String("file", e.Name), zap.Int64("bytes", n))
		fetched = append(fetched, local)
	}
	return fetched, nil
}

// download copies one remote file to local. The file only appears under
// its final name once fully written.
func (f *FTPFetcher) download(remote Remote, file, local string) (int64, error) {
	rc, err := remote.Open(file)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	tmp := local + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}

	n, err := io.Copy(out, rc)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp) //nolint:errcheck
		return n, eris.Wrapf(err, "write file %s", local)
	}
	if err := os.Rename(tmp, local); err != nil {
		return n, eris.Wrapf(err, "rename %s", tmp)
	}
	return n, nil
}
