package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/nvr-ai/chroma/decoder"
	"github.com/nvr-ai/chroma/images"
	"github.com/nvr-ai/chroma/logging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var (
	// ErrTransient marks failures that only cost the current frame. Callers skip the
	// frame and wait for the next one; the same frame is never retried.
	ErrTransient = errors.New("transient detection failure")
	// ErrStatus is returned for non-2xx responses.
	ErrStatus = errors.Wrap(ErrTransient, "unexpected status")
	// ErrTransport is returned when the request cannot be completed.
	ErrTransport = errors.Wrap(ErrTransient, "transport")
	// ErrMalformedResponse is returned when the response body is not a prediction array.
	ErrMalformedResponse = errors.Wrap(ErrTransient, "malformed response")
)

const (
	// FormField is the multipart field carrying the frame.
	FormField = "file"
	// DefaultQuality is the JPEG quality of uploaded frames.
	DefaultQuality = 100
	// DefaultTimeout bounds a whole upload and response.
	DefaultTimeout = 10 * time.Second
)

// Client uploads JPEG frames to a detection service.
type Client struct {
	url     string
	http    *http.Client
	quality int
	logger  logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.http = &http.Client{Timeout: d}
		}
	}
}

// WithQuality sets the JPEG quality, 1 to 100.
func WithQuality(q int) Option {
	return func(cl *Client) {
		cl.quality = q
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a client for the detection service at url.
//
// Arguments:
//   - url: The endpoint frames are POSTed to.
//   - opts: Optional settings.
//
// Returns:
//   - *Client: The client.
//   - error: A configuration error if url is empty or the quality is out of range.
func NewClient(url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:     url,
		http:    &http.Client{Timeout: DefaultTimeout},
		quality: DefaultQuality,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)

	if c.url == "" {
		return nil, errors.Wrap(decoder.ErrConfiguration, "remote url is empty")
	}
	if c.quality < 1 || c.quality > 100 {
		return nil, errors.Wrapf(decoder.ErrConfiguration, "jpeg quality %d out of range", c.quality)
	}
	return c, nil
}

// URL returns the endpoint.
func (c *Client) URL() string {
	return c.url
}

// Detect uploads img and converts the response into detections.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]decoder.Detection, error) {
	preds, err := c.Predict(ctx, img)
	if err != nil {
		return nil, err
	}
	return Detections(preds), nil
}

// Predict uploads img as a JPEG multipart form and returns the raw predictions.
//
// Arguments:
//   - ctx: Cancels the upload.
//   - img: The frame to upload.
//
// Returns:
//   - []Prediction: The decoded response array.
//   - error: An ErrTransient-wrapped error for transport, status or decoding failures.
//     Transport and decoding errors keep their cause, so context.Canceled and
//     context.DeadlineExceeded still match with errors.Is.
func (c *Client) Predict(ctx context.Context, img image.Image) ([]Prediction, error) {
	body, contentType, err := c.encode(img)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, multierr.Append(ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Wrapf(ErrStatus, "%d %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var preds []Prediction
	if err := json.NewDecoder(resp.Body).Decode(&preds); err != nil {
		return nil, multierr.Append(ErrMalformedResponse, err)
	}

	c.logger.Debugw("remote detection", "url", c.url, "predictions", len(preds), "latency", time.Since(start))
	return preds, nil
}

func (c *Client) encode(img image.Image) (io.Reader, string, error) {
	if img == nil {
		return nil, "", errors.New("nil image")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="image.jpg"`, FormField))
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to create form part")
	}
	jpg, err := images.EncodeJPEG(img, c.quality)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to encode frame")
	}
	if _, err := part.Write(jpg.Data); err != nil {
		return nil, "", errors.Wrap(err, "failed to write form part")
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "failed to close form")
	}

	return &body, w.FormDataContentType(), nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
