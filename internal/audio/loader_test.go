package audio

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// rawDecode treats the input as little-endian s16 so tests need no FFmpeg.
func rawDecode(_ context.Context, r io.Reader) ([]int16, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytesToSamples(b), nil
}

func testLoader(s3 ObjectFetcher) *Loader {
	l := NewLoader(s3)
	l.Decode = rawDecode
	l.DecodePath = nil
	return l
}

func TestLoaderHTTP(t *testing.T) {
	payload := SamplesToBytes([]int16{1, 2, 3, 4, 5})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/track.mp3" {
			http.NotFound(w, r)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	l := testLoader(nil)
	pcm, err := l.Load(context.Background(), srv.URL+"/track.mp3")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// half frame dropped
	if len(pcm.Samples) != 4 {
		t.Errorf("samples = %v, want 4 values", pcm.Samples)
	}

	_, err = l.Load(context.Background(), srv.URL+"/nope.mp3")
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("404 error = %v, want *LoadError", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q should mention the status", err)
	}
}

func TestLoaderLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.raw")
	if err := os.WriteFile(path, SamplesToBytes([]int16{7, 8}), 0o644); err != nil {
		t.Fatal(err)
	}

	l := testLoader(nil)
	for _, u := range []string{path, "file://" + path} {
		pcm, err := l.Load(context.Background(), u)
		if err != nil {
			t.Fatalf("Load(%q): %v", u, err)
		}
		if pcm.Frames() != 1 {
			t.Errorf("Load(%q) frames = %d, want 1", u, pcm.Frames())
		}
	}

	if _, err := l.Load(context.Background(), filepath.Join(dir, "missing.raw")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want ErrNotExist", err)
	}
}

func TestLoaderEmptyAudio(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.raw")
	os.WriteFile(path, nil, 0o644)

	_, err := testLoader(nil).Load(context.Background(), path)
	if !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("error = %v, want ErrEmptyAudio", err)
	}
}

func TestLoaderRejects(t *testing.T) {
	l := testLoader(nil)
	tests := []struct {
		url  string
		want error
	}{
		{"ftp://host/track.mp3", ErrUnsupportedScheme},
		{"s3://bucket/track.mp3", ErrS3Disabled},
	}
	for _, tt := range tests {
		_, err := l.Load(context.Background(), tt.url)
		if !errors.Is(err, tt.want) {
			t.Errorf("Load(%q) = %v, want %v", tt.url, err, tt.want)
		}
	}
	if _, err := l.Load(context.Background(), "  "); err == nil {
		t.Error("blank url should fail")
	}
}

type fakeBucket map[string][]byte

func (f fakeBucket) Fetch(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	b, ok := f[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return io.NopCloser(strings.NewReader(string(b))), nil
}

func TestLoaderS3(t *testing.T) {
	bucket := fakeBucket{"crates/house/one.mp3": SamplesToBytes([]int16{1, 1, 2, 2})}
	l := testLoader(bucket)

	pcm, err := l.Load(context.Background(), "s3://crates/house/one.mp3")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pcm.Frames() != 2 {
		t.Errorf("frames = %d, want 2", pcm.Frames())
	}

	if _, err := l.Load(context.Background(), "s3://crates/missing.mp3"); err == nil {
		t.Error("missing key should fail")
	}
	if _, err := l.Load(context.Background(), "s3://crates"); err == nil {
		t.Error("url without key should fail")
	}
}
