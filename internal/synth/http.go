package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/align-service/internal/audio"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errUnexpectedContentType   = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode = "TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "TTS service returned non-OK status: %s, body: %s"
)

// ErrEmptyAudio is returned when the service answers with no audio bytes.
var ErrEmptyAudio = errors.New("received empty audio data")

// HTTPEngine synthesizes fragments through a TTS HTTP service that answers
// POST /v1/generate/speech with a WAV body.
type HTTPEngine struct {
	httpClient *http.Client
	baseURL    string
}

// speechRequest is the JSON payload of a generation request.
type speechRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Voice    string `json:"voice,omitempty"`
}

// serviceError is the structured error body returned by the service.
type serviceError struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPEngine creates an engine for the service at baseURL, e.g.
// "http://localhost:8000". The timeout applies to every request.
func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Synthesize posts req to the service and decodes the returned WAV.
func (e *HTTPEngine) Synthesize(ctx context.Context, req Request) (audio.Buffer, error) {
	requestBody, err := json.Marshal(speechRequest{Text: req.Text, Language: req.Language, Voice: req.Voice})
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		e.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to send request to TTS service at %s: %w", e.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return audio.Buffer{}, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return audio.Buffer{}, fmt.Errorf(errUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return audio.Buffer{}, ErrEmptyAudio
	}

	return audio.Decode("speech.wav", audioData)
}

// HealthCheck verifies that the TTS service is reachable and healthy.
func (e *HTTPEngine) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", e.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}

	return nil
}

func parseErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, "<unreadable>")
	}

	var errResp serviceError

	jsonErr := json.Unmarshal(body, &errResp)
	if jsonErr == nil && errResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errResp.Detail, errResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
