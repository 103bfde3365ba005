package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agenthands/prism/internal/model"
)

var (
	_ Detector           = (*RemoteDetector)(nil)
	_ OCRProvider        = (*RemoteOCR)(nil)
	_ ScreenshotProvider = (*RemoteCapture)(nil)
	_ WindowProvider     = (*RemoteCapture)(nil)
)

// RemoteDetector posts the frame PNG to a sidecar inference service and
// normalizes its response. Transport and non-2xx failures surface as
// ModelUnavailableError so the chain can fall back.
type RemoteDetector struct {
	name   string
	url    string
	client *http.Client
}

func NewRemoteDetector(name, url string, timeout time.Duration) *RemoteDetector {
	return &RemoteDetector{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (d *RemoteDetector) Name() string { return d.name }

func (d *RemoteDetector) Detect(ctx context.Context, frame *Frame) ([]Detection, error) {
	body, err := postPNG(ctx, d.client, d.url, frame.PNG)
	if err != nil {
		return nil, &ModelUnavailableError{Provider: d.name, Err: err}
	}

	var payload struct {
		Elements []struct {
			Type       string  `json:"type"`
			BBox       [4]int  `json:"bbox"`
			Confidence float64 `json:"confidence"`
			Text       string  `json:"text"`
		} `json:"elements"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ModelUnavailableError{Provider: d.name, Err: err}
	}

	out := make([]Detection, 0, len(payload.Elements))
	for _, e := range payload.Elements {
		t := model.NodeType(e.Type)
		if t == "" {
			t = model.NodeUnknown
		}
		out = append(out, Detection{
			Type:       t,
			BBox:       model.BBox{X1: e.BBox[0], Y1: e.BBox[1], X2: e.BBox[2], Y2: e.BBox[3]},
			Confidence: e.Confidence,
			Text:       e.Text,
			Source:     d.name,
		})
	}
	return out, nil
}

type RemoteOCR struct {
	url    string
	client *http.Client
}

func NewRemoteOCR(url string, timeout time.Duration) *RemoteOCR {
	return &RemoteOCR{url: url, client: &http.Client{Timeout: timeout}}
}

func (o *RemoteOCR) Analyze(ctx context.Context, frame *Frame) (*OCRResult, error) {
	body, err := postPNG(ctx, o.client, o.url, frame.PNG)
	if err != nil {
		return nil, &ModelUnavailableError{Provider: "ocr", Err: err}
	}

	var payload struct {
		Words []struct {
			Text       string  `json:"text"`
			BBox       [4]int  `json:"bbox"`
			Confidence float64 `json:"confidence"`
		} `json:"words"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ModelUnavailableError{Provider: "ocr", Err: err}
	}

	result := &OCRResult{Words: make([]OCRWord, 0, len(payload.Words))}
	for _, w := range payload.Words {
		result.Words = append(result.Words, OCRWord{
			Text:       w.Text,
			BBox:       model.BBox{X1: w.BBox[0], Y1: w.BBox[1], X2: w.BBox[2], Y2: w.BBox[3]},
			Confidence: w.Confidence,
		})
	}
	return result, nil
}

// RemoteCapture talks to the capture sidecar: GET /frame for a PNG of
// the display and GET /window for the focused window context.
type RemoteCapture struct {
	baseURL string
	client  *http.Client
}

func NewRemoteCapture(baseURL string, timeout time.Duration) *RemoteCapture {
	return &RemoteCapture{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *RemoteCapture) Capture(ctx context.Context) (*Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/frame", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("capture failed: %s %s", resp.Status, string(b))
	}
	png, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return NewFrame(png)
}

func (c *RemoteCapture) ActiveWindow(ctx context.Context) (*ActiveWindow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/window", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoActiveWindow
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("window lookup failed: %s %s", resp.Status, string(b))
	}
	var win ActiveWindow
	if err := json.NewDecoder(resp.Body).Decode(&win); err != nil {
		return nil, err
	}
	if win.App == "" && win.Title == "" {
		return nil, ErrNoActiveWindow
	}
	return &win, nil
}

func postPNG(ctx context.Context, client *http.Client, url string, png []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(png))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/png")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s %s", resp.Status, string(b))
	}
	return io.ReadAll(resp.Body)
}
