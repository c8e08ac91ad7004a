package wsiclient

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/pathview/viewer/internal/perr"
)

// fakeTransport lets tests script a sequence of responses per URL substring.
type fakeTransport struct {
	calls     []string
	responses []fakeResponse
	next      int
}

type fakeResponse struct {
	status int
	body   []byte
	err    error
}

func (f *fakeTransport) Get(_ context.Context, url string) (int, []byte, error) {
	f.calls = append(f.calls, url)
	if f.next >= len(f.responses) {
		return 0, nil, errors.New("fakeTransport: no more scripted responses")
	}
	r := f.responses[f.next]
	f.next++
	return r.status, r.body, r.err
}

type fakeDecoder struct {
	img image.Image
	err error
}

func (f fakeDecoder) Decode([]byte) (image.Image, error) { return f.img, f.err }

func newClient(t *fakeTransport) *Client {
	return New("http://tiles.example", nil).WithTransport(t)
}

func TestHealthCheckHealthy(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{{status: 200, body: []byte(`{"status":"healthy","version":"1.0"}`)}}}
	c := newClient(ft)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if !c.IsConnected() {
		t.Error("expected IsConnected() == true after a healthy check")
	}
	if len(ft.calls) != 1 || !strings.Contains(ft.calls[0], "/health") {
		t.Errorf("unexpected calls: %v", ft.calls)
	}
}

func TestHealthCheckUnhealthyStatus(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{{status: 200, body: []byte(`{"status":"degraded"}`)}}}
	c := newClient(ft)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("expected IsConnected() == false for a non-healthy status body")
	}
}

func TestHealthCheckTransportFailureSetsDisconnected(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{{err: errors.New("connection refused")}}}
	c := newClient(ft)

	err := c.HealthCheck(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, perr.ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
	if c.IsConnected() {
		t.Error("expected IsConnected() == false after a transport failure")
	}
}

func TestGetSlideInfoUnauthorized(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{{status: 401}}}
	c := newClient(ft)

	_, err := c.GetSlideInfo(context.Background(), "slide-1")
	if !errors.Is(err, perr.ErrAuthDenied) {
		t.Errorf("expected ErrAuthDenied, got %v", err)
	}
}

func TestGetSlideInfoNotFound(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{{status: 404}}}
	c := newClient(ft)

	_, err := c.GetSlideInfo(context.Background(), "missing")
	if !errors.Is(err, perr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetSlideInfoOtherStatus(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{{status: 500}}}
	c := newClient(ft)

	_, err := c.GetSlideInfo(context.Background(), "slide-1")
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Errorf("expected a status-500 error, got %v", err)
	}
}

func TestGetSlideInfoAppliesDefaults(t *testing.T) {
	body := []byte(`{"width":1000,"height":800,"level_count":2,"levels":[{},{}]}`)
	ft := &fakeTransport{responses: []fakeResponse{{status: 200, body: body}}}
	c := newClient(ft)

	info, err := c.GetSlideInfo(context.Background(), "slide-1")
	if err != nil {
		t.Fatalf("GetSlideInfo() error = %v", err)
	}
	if info.Width != 1000 || info.Height != 800 || info.LevelCount != 2 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Levels[0].TileWidth != 256 || info.Levels[0].Downsample != 1 {
		t.Errorf("level 0 default mismatch: %+v", info.Levels[0])
	}
	if info.Levels[1].TileWidth != 256 || info.Levels[1].Downsample != 2 {
		t.Errorf("level 1 default mismatch: %+v", info.Levels[1])
	}
}

func TestListSlidesBareArrayOfIDs(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{{status: 200, body: []byte(`["a","b","c"]`)}}}
	c := newClient(ft)

	entries, err := c.ListSlides(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListSlides() error = %v", err)
	}
	if len(entries) != 3 || entries[0].ID != "a" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestListSlidesWrappedObjects(t *testing.T) {
	body := []byte(`{"slides":[{"id":"a","name":"Slide A"},{"id":"b"}]}`)
	ft := &fakeTransport{responses: []fakeResponse{{status: 200, body: body}}}
	c := newClient(ft)

	entries, err := c.ListSlides(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListSlides() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "Slide A" || entries[1].ID != "b" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestGetTileRetriesOnTransportFailureThenSucceeds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	ft := &fakeTransport{responses: []fakeResponse{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		{status: 200, body: []byte("jpegbytes")},
	}}
	c := newClient(ft).WithDecoder(fakeDecoder{img: img})

	got, err := c.GetTile(context.Background(), "slide-1", 0, 3, 4, 80)
	if err != nil {
		t.Fatalf("GetTile() error = %v", err)
	}
	if got.Bounds() != img.Bounds() {
		t.Errorf("unexpected image bounds: %v", got.Bounds())
	}
	if len(ft.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(ft.calls))
	}
	for _, url := range ft.calls {
		if !strings.Contains(url, "/tiles/slide-1/0/3/4.jpg") {
			t.Errorf("unexpected tile URL: %s", url)
		}
	}
}

func TestGetTileGivesUpAfterMaxRetries(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
	}}
	c := newClient(ft)

	_, err := c.GetTile(context.Background(), "slide-1", 0, 0, 0, 80)
	if !errors.Is(err, perr.ErrTransport) {
		t.Fatalf("expected ErrTransport after exhausting retries, got %v", err)
	}
	if len(ft.calls) != maxTransportRetries {
		t.Errorf("expected exactly %d attempts, got %d", maxTransportRetries, len(ft.calls))
	}
}

func TestGetTileDecodeFailureIsNotRetried(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{{status: 200, body: []byte("not a jpeg")}}}
	c := newClient(ft).WithDecoder(fakeDecoder{err: errors.New("invalid JPEG")})

	_, err := c.GetTile(context.Background(), "slide-1", 0, 0, 0, 80)
	if !errors.Is(err, perr.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if len(ft.calls) != 1 {
		t.Errorf("expected exactly 1 attempt on decode failure, got %d", len(ft.calls))
	}
}

func TestGetTileHTTPErrorIsNotRetried(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{{status: 404}}}
	c := newClient(ft)

	_, err := c.GetTile(context.Background(), "slide-1", 0, 0, 0, 80)
	if !errors.Is(err, perr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(ft.calls) != 1 {
		t.Errorf("expected exactly 1 attempt on a 404, got %d", len(ft.calls))
	}
}

func TestBaseURLTrimsTrailingSlash(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{{status: 200, body: []byte(`{"status":"healthy"}`)}}}
	c := New("http://tiles.example/", nil).WithTransport(ft)

	_ = c.HealthCheck(context.Background())
	if len(ft.calls) != 1 || !strings.HasPrefix(ft.calls[0], "http://tiles.example/health") {
		t.Errorf("unexpected call: %v", ft.calls)
	}
	if strings.Contains(ft.calls[0], "//health") {
		t.Errorf("expected no double slash, got %s", ft.calls[0])
	}
}
