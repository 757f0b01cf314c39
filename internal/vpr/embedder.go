// Package vpr implements visual place recognition over video frames: the
// embedding provider boundary and the coarse-to-fine similarity search that
// locates lap boundaries.
package vpr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/lapvision/lapvision/internal/httputil"
	"github.com/lapvision/lapvision/internal/monitoring"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// ErrModelUnavailable reports that the embedding provider cannot produce
// vectors, either because the model never loaded or because the sidecar
// stopped answering.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// Embedder converts a raw frame into a place-recognition embedding.
// Embeddings are deterministic for a fixed model and input, and every vector
// from one Embedder instance has the same dimensionality.
type Embedder interface {
	// Embed returns the embedding for a PNG-encoded frame, L2-normalized so
	// similarity reduces to a dot product.
	Embed(ctx context.Context, frame []byte) (Vector, error)

	// Dims returns the embedding dimensionality, 0 if not yet known.
	Dims() int

	// Device reports the compute device serving the model, for observability.
	Device() string
}

// Normalize scales v to unit L2 norm in place and returns it. A zero vector
// is returned unchanged.
func Normalize(v Vector) Vector {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Dot returns the inner product of a and b, accumulated in float64. Over
// normalized vectors this is cosine similarity in [-1, 1]. Scores are
// comparable only within one search; they carry no absolute meaning across
// models.
func Dot(a, b Vector) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// CosineSimilarity computes cosine similarity between two vectors without
// assuming either is normalized.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// HTTPEmbedder speaks JSON over HTTP to the VPR inference sidecar that hosts
// the place-recognition model. The sidecar is probed once at construction;
// that probe doubles as the model-load handshake.
type HTTPEmbedder struct {
	baseURL string
	client  httputil.HTTPClient
	model   string
	dims    int
	device  string
}

type embedRequest struct {
	Image string `json:"image"` // base64-encoded PNG
}

type embedResponse struct {
	Embedding Vector `json:"embedding"`
	Device    string `json:"device"`
}

type sidecarInfo struct {
	Model  string `json:"model"`
	Dims   int    `json:"dims"`
	Device string `json:"device"`
}

// NewHTTPEmbedder probes the sidecar at baseURL and returns an Embedder bound
// to it. A sidecar that cannot be reached, or that reports no model, yields
// ErrModelUnavailable.
func NewHTTPEmbedder(baseURL string, client httputil.HTTPClient) (*HTTPEmbedder, error) {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	resp, err := client.Get(baseURL + "/info")
	if err != nil {
		return nil, fmt.Errorf("%w: probing %s: %v", ErrModelUnavailable, baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: sidecar returned %d: %s", ErrModelUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info sidecarInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: bad info document: %v", ErrModelUnavailable, err)
	}
	if info.Model == "" {
		return nil, fmt.Errorf("%w: sidecar reports no loaded model", ErrModelUnavailable)
	}

	monitoring.Logf("vpr: connected to %s (model %s, %d dims, device %s)",
		baseURL, info.Model, info.Dims, info.Device)

	return &HTTPEmbedder{
		baseURL: baseURL,
		client:  client,
		model:   info.Model,
		dims:    info.Dims,
		device:  info.Device,
	}, nil
}

// Embed posts the frame to the sidecar and returns its normalized embedding.
func (e *HTTPEmbedder) Embed(ctx context.Context, frame []byte) (Vector, error) {
	payload, err := json.Marshal(embedRequest{
		Image: base64.StdEncoding.EncodeToString(frame),
	})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: embed returned %d: %s", ErrModelUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: bad embed document: %v", ErrModelUnavailable, err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("%w: sidecar returned empty embedding", ErrModelUnavailable)
	}
	if e.dims > 0 && len(result.Embedding) != e.dims {
		return nil, fmt.Errorf("embedding has %d dims, model %s declares %d", len(result.Embedding), e.model, e.dims)
	}
	if result.Device != "" {
		e.device = result.Device
	}

	return Normalize(result.Embedding), nil
}

// Dims returns the model's embedding dimensionality.
func (e *HTTPEmbedder) Dims() int { return e.dims }

// Device reports the sidecar's active compute device.
func (e *HTTPEmbedder) Device() string { return e.device }

// Model returns the sidecar's model name.
func (e *HTTPEmbedder) Model() string { return e.model }
