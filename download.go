package twitter_video_dl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
)

var ErrDownloadFailed = errors.New("download failed")

// chunkSize is how much of a sized stream is read per write, and therefore how often progress is updated.
const chunkSize = 8192

type DownloadID string

func NewDownloadID() DownloadID {
	return DownloadID(uuid.NewString())
}

type Download interface {
	// AddDownloadedBytes increases how many bytes have been successfully downloaded so far.
	AddDownloadedBytes(n int)

	// AddExpectedBytes increases how many bytes are expected to be downloaded. Call before SaveStream so the
	// stream gets chunked accounting instead of a single unsized write.
	AddExpectedBytes(n int)

	// Cancel the Download, stopping any in-progress I/O activity.
	Cancel()

	// Close cleans up any resources associated with the Download.
	Close() error

	// Context is the cancellable context of this Download.
	Context() context.Context

	// ID identifies this Download, e.g. for log correlation.
	ID() DownloadID

	// Progress returns the downloaded and expected bytes of the download.
	Progress() (int, int)

	// SaveHTTPRequest will execute the http.Request with Context() and then download the resulting stream like
	// SaveStream, failing on a non-2xx response.
	SaveHTTPRequest(filename string, req *http.Request) error

	// SaveStream will download the stream to the named file, calling AddDownloadedBytes as necessary. If the
	// stream fails partway, the destination file is deleted before the error is returned.
	SaveStream(filename string, stream io.Reader) error

	// SaveURL will make a GET request to the URL and then download the resulting stream like SaveHTTPRequest.
	SaveURL(filename string, url string) error
}

type download struct {
	ctx              context.Context
	cancel           context.CancelFunc
	id               DownloadID
	httpClient       *http.Client
	progressCallback func(downloaded int, expected int)
	percentCallback  func(percent int)
	targetPrefix     string
	expectedBytes    int
	downloadedBytes  int
}

func (d *download) AddDownloadedBytes(n int) {
	d.downloadedBytes += n
	if d.progressCallback != nil {
		d.progressCallback(d.Progress())
	}
}

func (d *download) AddExpectedBytes(n int) {
	d.expectedBytes += n
	if d.progressCallback != nil {
		d.progressCallback(d.Progress())
	}
}

func (d *download) Cancel() {
	d.cancel()
}

func (d *download) Close() error {
	d.cancel()
	return nil
}

func (d *download) Context() context.Context {
	return d.ctx
}

func (d *download) ID() DownloadID {
	return d.id
}

func (d *download) Progress() (int, int) {
	return d.downloadedBytes, d.expectedBytes
}

func (d *download) SaveHTTPRequest(filename string, req *http.Request) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrDownloadFailed)
	}
	req = req.WithContext(d.Context())
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: unexpected status %v", ErrDownloadFailed, resp.Status)
	}
	if resp.ContentLength > 0 {
		d.AddExpectedBytes(int(resp.ContentLength))
	}
	return d.SaveStream(filename, resp.Body)
}

func (d *download) SaveStream(filename string, stream io.Reader) error {
	targetPath := d.targetPath(filename)
	if err := os.MkdirAll(path.Dir(targetPath), 0775); err != nil {
		return fmt.Errorf("%w: failed to create target dir: %v", ErrDownloadFailed, err)
	}
	f, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("%w: failed to open target file: %v", ErrDownloadFailed, err)
	}

	err = d.copyStream(f, &readerContext{ctx: d.ctx, r: stream})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// A failed download must never leave a partial artifact behind.
		if removeErr := os.Remove(targetPath); removeErr != nil && !os.IsNotExist(removeErr) {
			Logger(d.ctx).Sugar().Warnf("failed to remove partial file %v: %v", targetPath, removeErr)
		}
		return fmt.Errorf("%w: failed to save stream: %v", ErrDownloadFailed, err)
	}
	return nil
}

func (d *download) SaveURL(filename string, url string) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrDownloadFailed, err)
	}
	return d.SaveHTTPRequest(filename, req)
}

// copyStream writes the stream to w. Anything added via AddExpectedBytes but not yet downloaded is treated as
// the size of this stream; without a size the whole stream is written as a single unit, with a size it is
// copied in chunkSize reads with the percent callback fired at each exact multiple of ten percent.
func (d *download) copyStream(w io.Writer, stream io.Reader) error {
	total := d.expectedBytes - d.downloadedBytes
	if total <= 0 {
		n, err := io.Copy(w, stream)
		d.AddDownloadedBytes(int(n))
		return err
	}

	buf := make([]byte, chunkSize)
	done := 0
	lastPercent := -1
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			done += n
			d.AddDownloadedBytes(n)
			percent := int(int64(done) * 100 / int64(total))
			if percent%10 == 0 && percent != lastPercent {
				lastPercent = percent
				if d.percentCallback != nil {
					d.percentCallback(percent)
				}
			}
		}
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

func (d *download) targetPath(filename string) string {
	targetPathBuilder := strings.Builder{}
	targetPathBuilder.WriteString(d.targetPrefix)
	targetPathBuilder.WriteString(filename)
	return targetPathBuilder.String()
}

type DownloadBuilder interface {
	Build() (Download, error)
	WithContext(ctx context.Context) DownloadBuilder
	WithHTTPClient(client *http.Client) DownloadBuilder
	WithPercentCallback(f func(percent int)) DownloadBuilder
	WithProgressCallback(f func(downloaded int, expected int)) DownloadBuilder
	WithTargetPrefix(prefix string) DownloadBuilder
}

type downloadBuilder struct {
	ctx              context.Context
	httpClient       *http.Client
	percentCallback  func(int)
	progressCallback func(int, int)
	targetPrefix     string
}

func NewDownloadBuilder() DownloadBuilder {
	return &downloadBuilder{
		ctx:          context.Background(),
		httpClient:   http.DefaultClient,
		targetPrefix: "./",
	}
}

func (b *downloadBuilder) Build() (Download, error) {
	d := download{
		id:               NewDownloadID(),
		httpClient:       b.httpClient,
		percentCallback:  b.percentCallback,
		progressCallback: b.progressCallback,
		targetPrefix:     b.targetPrefix,
	}
	d.ctx, d.cancel = context.WithCancel(b.ctx)
	return &d, nil
}

func (b *downloadBuilder) WithContext(ctx context.Context) DownloadBuilder {
	b.ctx = ctx
	return b
}

func (b *downloadBuilder) WithHTTPClient(client *http.Client) DownloadBuilder {
	b.httpClient = client
	return b
}

func (b *downloadBuilder) WithPercentCallback(f func(int)) DownloadBuilder {
	b.percentCallback = f
	return b
}

func (b *downloadBuilder) WithProgressCallback(f func(int, int)) DownloadBuilder {
	b.progressCallback = f
	return b
}

func (b *downloadBuilder) WithTargetPrefix(prefix string) DownloadBuilder {
	b.targetPrefix = prefix
	return b
}
