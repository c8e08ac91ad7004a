// Package wsiclient implements the WSI stream client: the
// HTTP endpoints a RemoteSlideSource talks to. Transport (the actual GET)
// and JpegDecoder are the external collaborators this client depends on; this
// package defines them as small interfaces with net/http/image-jpeg
// defaults, since no pack repo ships a dedicated HTTP client or JPEG
// library of its own — the teacher itself builds directly on net/http for
// its server side (cmd/server/main.go).
package wsiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pathview/viewer/internal/logging"
	"github.com/pathview/viewer/internal/perr"
	"github.com/pathview/viewer/internal/urlsign"
)

const (
	// ConnectTimeout is the dial timeout for all requests.
	ConnectTimeout = 5 * time.Second
	// DefaultReadTimeout is used unless a longer one is configured.
	DefaultReadTimeout = 10 * time.Second
	// MaxReadTimeout bounds tile reads that may need more time.
	MaxReadTimeout = 30 * time.Second
	maxTransportRetries = 3
)

// Transport is the HTTP GET external collaborator.
type Transport interface {
	Get(ctx context.Context, url string) (status int, body []byte, err error)
}

// JpegDecoder is the JPEG decode external collaborator.
type JpegDecoder interface {
	Decode(data []byte) (image.Image, error)
}

// httpTransport is the default Transport, built directly on net/http.
type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport builds a Transport with the given read timeout; connect
// timeout is fixed at ConnectTimeout via the dialer.
func NewHTTPTransport(readTimeout time.Duration) Transport {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &httpTransport{
		client: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
			},
		},
	}
}

func (t *httpTransport) Get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, buf.Bytes(), nil
}

// jpegDecoder is the default JpegDecoder, built on image/jpeg.
type jpegDecoder struct{}

func (jpegDecoder) Decode(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

// SlideEntry is one item from GET /slides.
type SlideEntry struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// LevelInfo is one entry of a slide's "levels" array.
type LevelInfo struct {
	TileWidth  int     `json:"tile_width"`
	Downsample float64 `json:"downsample"`
}

// SlideInfo is the response of GET /slides/{id}.
type SlideInfo struct {
	Width      int64       `json:"width"`
	Height     int64       `json:"height"`
	LevelCount int         `json:"level_count"`
	Levels     []LevelInfo `json:"levels"`
}

// Client is the WSI stream client.
type Client struct {
	baseURL   string
	signer    *urlsign.Signer
	transport Transport
	decoder   JpegDecoder
	log       *log.Logger

	connected bool
}

// New creates a Client using the net/http and image/jpeg default
// collaborators; override them with WithTransport/WithDecoder.
func New(baseURL string, signer *urlsign.Signer) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		signer:    signer,
		transport: NewHTTPTransport(DefaultReadTimeout),
		decoder:   jpegDecoder{},
		log:       logging.Component("wsiclient"),
	}
}

// WithTransport overrides the Transport (used by tests and by callers that
// need custom timeouts, e.g. a longer read timeout for tile fetches).
func (c *Client) WithTransport(t Transport) *Client {
	c.transport = t
	return c
}

// WithDecoder overrides the JpegDecoder.
func (c *Client) WithDecoder(d JpegDecoder) *Client {
	c.decoder = d
	return c
}

// IsConnected reflects the outcome of the last HealthCheck call.
func (c *Client) IsConnected() bool { return c.connected }

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// HealthCheck calls GET /health and updates IsConnected accordingly.
func (c *Client) HealthCheck(ctx context.Context) error {
	body, err := c.get(ctx, "/health", nil)
	if err != nil {
		c.connected = false
		return err
	}
	var h healthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		c.connected = false
		return fmt.Errorf("%w: parsing health response: %v", perr.ErrDecode, err)
	}
	c.connected = h.Status == "healthy"
	return nil
}

// ListSlides calls GET /slides?limit=N. The response may be a bare JSON
// array of entries (string ids or objects) or {"slides": [...]}.
func (c *Client) ListSlides(ctx context.Context, limit int) ([]SlideEntry, error) {
	body, err := c.get(ctx, "/slides", map[string]string{"limit": fmt.Sprint(limit)})
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Slides []json.RawMessage `json:"slides"`
	}
	var bare []json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Slides != nil {
		bare = wrapped.Slides
	} else if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("%w: parsing /slides response: %v", perr.ErrDecode, err)
	}

	entries := make([]SlideEntry, 0, len(bare))
	for _, raw := range bare {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil {
			entries = append(entries, SlideEntry{ID: id})
			continue
		}
		var entry SlideEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("%w: parsing slide entry: %v", perr.ErrDecode, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetSlideInfo calls GET /slides/{id}, applying the default tile_size=256
// and downsample=2^level fallbacks when the server omits them.
func (c *Client) GetSlideInfo(ctx context.Context, id string) (*SlideInfo, error) {
	body, err := c.get(ctx, "/slides/"+id, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Width      int64 `json:"width"`
		Height     int64 `json:"height"`
		LevelCount int   `json:"level_count"`
		Levels     []struct {
			TileWidth  *int     `json:"tile_width"`
			Downsample *float64 `json:"downsample"`
		} `json:"levels"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing slide info: %v", perr.ErrDecode, err)
	}

	info := &SlideInfo{Width: raw.Width, Height: raw.Height, LevelCount: raw.LevelCount}
	info.Levels = make([]LevelInfo, len(raw.Levels))
	for i, lv := range raw.Levels {
		tw := 256
		if lv.TileWidth != nil {
			tw = *lv.TileWidth
		}
		ds := float64(int64(1) << uint(i))
		if lv.Downsample != nil {
			ds = *lv.Downsample
		}
		info.Levels[i] = LevelInfo{TileWidth: tw, Downsample: ds}
	}
	return info, nil
}

// GetTile calls GET /tiles/{id}/{level}/{x}/{y}.jpg?quality=Q, making at
// most maxTransportRetries attempts in all while transport failures occur.
// A JPEG decode failure is never retried.
func (c *Client) GetTile(ctx context.Context, id string, level, x, y, quality int) (image.Image, error) {
	path := fmt.Sprintf("/tiles/%s/%d/%d/%d.jpg", id, level, x, y)
	params := map[string]string{"quality": fmt.Sprint(quality)}

	var lastErr error
	for attempt := 0; attempt < maxTransportRetries; attempt++ {
		body, err := c.get(ctx, path, params)
		if err != nil {
			if errors.Is(err, perr.ErrTransport) {
				lastErr = err
				c.log.Printf("tile %s attempt %d/%d failed: %v", path, attempt+1, maxTransportRetries, err)
				continue
			}
			return nil, err
		}
		img, decErr := c.decoder.Decode(body)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", perr.ErrDecode, decErr)
		}
		return img, nil
	}
	return nil, lastErr
}

// get issues a signed (if a signer is configured) GET against the base URL
// and maps 401 and 404 to the perr error kinds; any other non-2xx status
// becomes a plain "status N" error.
func (c *Client) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	query := ""
	if c.signer != nil {
		query = "?" + c.signer.Sign(path, params, urlsign.DefaultValiditySeconds, time.Now().Unix())
	} else if len(params) > 0 {
		query = "?" + encodeUnsigned(params)
	}

	status, body, err := c.transport.Get(ctx, c.baseURL+path+query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perr.ErrTransport, err)
	}

	switch {
	case status >= 200 && status < 300:
		return body, nil
	case status == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w", perr.ErrAuthDenied)
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("%w", perr.ErrNotFound)
	default:
		return nil, fmt.Errorf("status %d", status)
	}
}

func encodeUnsigned(params map[string]string) string {
	s := urlsign.New("")
	return s.Sign("", params, urlsign.DefaultValiditySeconds, 0)
}
