// Package genai is a lightweight facade over the Gemini generation API. The
// pipeline treats generation as an opaque capability: providers translate
// domain requests to API calls and map provider failures onto the pipeline's
// retryable/terminal taxonomy. Video generation is a long-running operation
// (submit, then poll) so the executor owns the poll loop.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clementine/internal/domain"
	"clementine/internal/infra"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	ImageModel string
	VideoModel string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client wraps the Gemini REST API used by the outcome executors.
type Client struct {
	apiKey     string
	baseURL    string
	imageModel string
	videoModel string
	httpClient *http.Client
	logger     *infra.Logger
}

// ImageRequest describes one image generation call.
type ImageRequest struct {
	Prompt      string
	AspectRatio string
	Model       string
	// SourceFrame optionally carries the guest's captured photo as an
	// inline reference frame.
	SourceFrame     []byte
	SourceFrameMIME string
}

// ImageAsset is the normalized result of an image generation call.
type ImageAsset struct {
	Data     []byte
	MIMEType string
}

// VideoRequest describes one long-running video generation submission.
type VideoRequest struct {
	Prompt          string
	AspectRatio     string
	Model           string
	DurationSeconds int
	StartFrame      []byte
	StartFrameMIME  string
}

// VideoOperation is the state of a long-running video generation.
type VideoOperation struct {
	Name     string
	Done     bool
	VideoURI string
	// Filtered is true when the operation finished but every candidate was
	// removed by the safety filter.
	Filtered bool
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts,omitempty"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type generationConfig struct {
	CandidateCount     int      `json:"candidateCount,omitempty"`
	AspectRatio        string   `json:"aspectRatio,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type predictLongRunningRequest struct {
	Instances  []videoInstance `json:"instances"`
	Parameters videoParameters `json:"parameters"`
}

type videoInstance struct {
	Prompt string      `json:"prompt"`
	Image  *inlineData `json:"image,omitempty"`
}

type videoParameters struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

type operationResponse struct {
	Name     string         `json:"name"`
	Done     bool           `json:"done"`
	Error    *operationErr  `json:"error,omitempty"`
	Response *videoResponse `json:"response,omitempty"`
}

type operationErr struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type videoResponse struct {
	GenerateVideoResponse *generateVideoResponse `json:"generateVideoResponse,omitempty"`
}

type generateVideoResponse struct {
	GeneratedSamples      []generatedSample `json:"generatedSamples"`
	RAIMediaFilteredCount int               `json:"raiMediaFilteredCount,omitempty"`
}

type generatedSample struct {
	Video struct {
		URI string `json:"uri"`
	} `json:"video"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may
// provide a nil HTTP client; a reusable one with sensible timeouts will be
// created.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = "gemini-2.5-flash-image"
	}
	videoModel := opts.VideoModel
	if videoModel == "" {
		videoModel = "veo-3.0-generate-001"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		imageModel: imageModel,
		videoModel: videoModel,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ImageModel returns the configured image model identifier.
func (c *Client) ImageModel() string { return c.imageModel }

// VideoModel returns the configured video model identifier.
func (c *Client) VideoModel() string { return c.videoModel }

// GenerateImage runs one synchronous image generation call. An empty
// candidate set is a terminal failure: the same prompt will be filtered
// again on retry.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageAsset, error) {
	model := req.Model
	if model == "" {
		model = c.imageModel
	}

	parts := []part{{Text: req.Prompt}}
	if len(req.SourceFrame) > 0 {
		mime := req.SourceFrameMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(req.SourceFrame),
		}})
	}

	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{
			CandidateCount:     1,
			AspectRatio:        req.AspectRatio,
			ResponseModalities: []string{"IMAGE"},
		},
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	var resp generateContentResponse
	if err := c.post(ctx, endpoint, payload, &resp); err != nil {
		return nil, err
	}

	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, domain.Retryable("provider returned an unreadable image", err)
			}
			return &ImageAsset{Data: data, MIMEType: p.InlineData.MimeType}, nil
		}
	}

	c.logger.Warn().Str("model", model).Int("candidates", len(resp.Candidates)).
		Msg("genai: image generation returned no usable candidates")
	return nil, domain.Terminal("Image was filtered by safety policy", nil)
}

// StartVideoGeneration submits a long-running video generation and returns
// the operation name to poll.
func (c *Client) StartVideoGeneration(ctx context.Context, req VideoRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.videoModel
	}

	instance := videoInstance{Prompt: req.Prompt}
	if len(req.StartFrame) > 0 {
		mime := req.StartFrameMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		instance.Image = &inlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(req.StartFrame),
		}
	}

	payload := predictLongRunningRequest{
		Instances: []videoInstance{instance},
		Parameters: videoParameters{
			AspectRatio:     req.AspectRatio,
			DurationSeconds: req.DurationSeconds,
		},
	}

	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, model)
	var resp operationResponse
	if err := c.post(ctx, endpoint, payload, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", domain.Retryable("provider did not return an operation", nil)
	}
	return resp.Name, nil
}

// PollVideoOperation fetches the current state of a video operation.
func (c *Client) PollVideoOperation(ctx context.Context, name string) (*VideoOperation, error) {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(name, "/"))
	var resp operationResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	op := &VideoOperation{Name: resp.Name, Done: resp.Done}
	if !resp.Done {
		return op, nil
	}
	if resp.Error != nil {
		return nil, classifyStatus(resp.Error.Code, resp.Error.Message)
	}
	if resp.Response != nil && resp.Response.GenerateVideoResponse != nil {
		gvr := resp.Response.GenerateVideoResponse
		if len(gvr.GeneratedSamples) > 0 {
			op.VideoURI = gvr.GeneratedSamples[0].Video.URI
		}
		op.Filtered = op.VideoURI == "" && gvr.RAIMediaFilteredCount > 0
	}
	return op, nil
}

// DownloadFile streams a generated asset URI into destPath.
func (c *Client) DownloadFile(ctx context.Context, uri, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return domain.Retryable("provider download failed", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Retryable("provider download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, fmt.Sprintf("download returned %d", resp.StatusCode))
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return domain.Retryable("provider download failed", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Retryable("provider unavailable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Retryable("provider response unreadable", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := strings.TrimSpace(string(raw))
		var apiErr apiErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		c.logger.Warn().Int("status", resp.StatusCode).Str("url", req.URL.Path).
			Msg("genai: request failed")
		return classifyStatus(resp.StatusCode, message)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.Retryable("provider response unreadable", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}
}

// classifyStatus maps provider HTTP status codes onto the failure taxonomy:
// rate limits and server errors are transient, everything else would fail
// identically on retry.
func classifyStatus(code int, message string) error {
	cause := fmt.Errorf("%w: status %d: %s", domain.ErrProviderFailed, code, message)
	if code == http.StatusTooManyRequests || code >= 500 {
		return domain.Retryable("generation service is temporarily unavailable", cause)
	}
	return domain.Terminal("generation request was rejected", cause)
}
