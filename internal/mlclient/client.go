// Package mlclient talks to the external re-aging model. The gateway
// only ever sees it through the Transformer interface, so tests swap in
// a fake.
package mlclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"
)

// Transformer sends an image to the model and returns the transformed
// bytes.
type Transformer interface {
	Transform(ctx context.Context, image []byte, contentType string) ([]byte, error)
}

type Options struct {
	URL       string
	Timeout   time.Duration
	SourceAge int
	TargetAge int
}

type Client struct {
	url       string
	hc        *http.Client
	sourceAge int
	targetAge int
}

func NewClient(opt Options) (*Client, error) {
	if opt.URL == "" {
		return nil, errors.New("ml url is required")
	}
	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	sourceAge := opt.SourceAge
	if sourceAge == 0 {
		sourceAge = 21
	}
	targetAge := opt.TargetAge
	if targetAge == 0 {
		targetAge = 80
	}
	return &Client{
		url:       opt.URL,
		hc:        &http.Client{Timeout: timeout},
		sourceAge: sourceAge,
		targetAge: targetAge,
	}, nil
}

// Transform posts the image as multipart form data together with the
// source and target age parameters the model expects.
func (c *Client) Transform(ctx context.Context, image []byte, contentType string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := createImagePart(mw, contentType)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := mw.WriteField("source_age", strconv.Itoa(c.sourceAge)); err != nil {
		return nil, err
	}
	if err := mw.WriteField("target_age", strconv.Itoa(c.targetAge)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ml service responded %d", resp.StatusCode)
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("ml service returned an empty result")
	}
	return out, nil
}

func createImagePart(mw *multipart.Writer, contentType string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="image"`)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	return mw.CreatePart(h)
}
