package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	// ErrUnsupportedScheme is returned for track URLs the loader cannot fetch.
	ErrUnsupportedScheme = errors.New("unsupported track url scheme")

	// ErrS3Disabled is returned for s3:// URLs when no S3 endpoint is configured.
	ErrS3Disabled = errors.New("s3 track source not configured")
)

// LoadError reports an unreachable or undecodable track.
type LoadError struct {
	URL string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ObjectFetcher streams an object out of a bucket.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Loader fetches track URLs and decodes them to PCM.
//
// Supported URLs: plain paths and file://, http(s)://, and s3://bucket/key when
// an ObjectFetcher is configured.
type Loader struct {
	HTTP   *http.Client
	S3     ObjectFetcher
	Decode DecodeFunc

	// DecodePath decodes local files by path so FFmpeg can seek containers
	// that do not stream well from stdin.
	DecodePath func(ctx context.Context, path string) ([]int16, error)
}

// NewLoader creates a Loader that decodes with FFmpeg. s3 may be nil.
func NewLoader(s3 ObjectFetcher) *Loader {
	return &Loader{
		HTTP:       &http.Client{Timeout: 2 * time.Minute},
		S3:         s3,
		Decode:     DecodeReader,
		DecodePath: DecodeFile,
	}
}

// Load fetches and decodes rawURL. Every failure comes back as a *LoadError.
func (l *Loader) Load(ctx context.Context, rawURL string) (*PCM, error) {
	samples, err := l.load(ctx, rawURL)
	if err != nil {
		return nil, &LoadError{URL: rawURL, Err: err}
	}
	if len(samples) < Channels {
		return nil, &LoadError{URL: rawURL, Err: ErrEmptyAudio}
	}
	// Drop a dangling half frame.
	samples = samples[:len(samples)-len(samples)%Channels]
	return &PCM{Samples: samples}, nil
}

func (l *Loader) load(ctx context.Context, rawURL string) ([]int16, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("empty track url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	switch u.Scheme {
	case "", "file":
		path := rawURL
		if u.Scheme == "file" {
			path = u.Path
		}
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		if l.DecodePath != nil {
			return l.DecodePath(ctx, path)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return l.Decode(ctx, f)

	case "http", "https":
		body, err := l.fetchHTTP(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		return l.Decode(ctx, body)

	case "s3":
		if l.S3 == nil {
			return nil, ErrS3Disabled
		}
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("s3 url needs bucket and key: %q", rawURL)
		}
		body, err := l.S3.Fetch(ctx, u.Host, key)
		if err != nil {
			return nil, fmt.Errorf("s3 get: %w", err)
		}
		defer body.Close()
		return l.Decode(ctx, body)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

func (l *Loader) fetchHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	client := l.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download audio: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
