package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/voxbridge/broker/internal/audio"
	"github.com/voxbridge/broker/internal/httpx"
	"github.com/voxbridge/broker/internal/metrics"
)

// HTTPCollaborator transcribes segments by POSTing a WAV file to an external
// ASR inference server and pairs it with an EnergyVAD boundary detector, so
// DetectBoundary runs locally; Transcribe always needs the live server.
type HTTPCollaborator struct {
	url    string
	client *http.Client
	vad    *EnergyVAD
}

// NewHTTPCollaborator creates a collaborator pointed at an ASR server URL.
func NewHTTPCollaborator(url string, poolSize int, vadCfg EnergyVADConfig, chunkMs int) *HTTPCollaborator {
	return &HTTPCollaborator{
		url:    url,
		client: httpx.NewPooledClient(poolSize, 30*time.Second),
		vad:    NewEnergyVAD(vadCfg, chunkMs),
	}
}

func (c *HTTPCollaborator) DetectBoundary(chunk []float32) (beginMs, endMs int) {
	return c.vad.DetectBoundary(chunk)
}

// Ready probes the ASR server's health endpoint. It satisfies
// asr.ReadinessChecker (spec §7).
func (c *HTTPCollaborator) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("asr: build health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("asr: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asr: health check status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPCollaborator) Transcribe(ctx context.Context, segment []float32) (ParsedUtterance, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(segment)
	if err != nil {
		return ParsedUtterance{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/inference", body)
	if err != nil {
		return ParsedUtterance{}, fmt.Errorf("asr: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "http").Inc()
		return ParsedUtterance{}, fmt.Errorf("asr: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.Errors.WithLabelValues("asr", "status").Inc()
		return ParsedUtterance{}, fmt.Errorf("asr: status %d: %s", resp.StatusCode, string(respBody))
	}

	var raw asrResponse
	if err = json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return ParsedUtterance{}, fmt.Errorf("asr: decode response: %w", err)
	}

	metrics.StageDuration.WithLabelValues("asr").Observe(time.Since(start).Seconds())

	language, emotion, audioEvent, itn, clean := splitTags(raw.Text)
	if audioEvent == "" {
		audioEvent = "Event_UNK"
	}

	return ParsedUtterance{
		RawText:    raw.Text,
		CleanText:  clean,
		Language:   language,
		Emotion:    emotion,
		AudioEvent: audioEvent,
		ITN:        itn,
		Timestamp:  time.Now(),
	}, nil
}

type asrResponse struct {
	Text string `json:"text"`
}

func buildMultipartAudio(samples []float32) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAV(samples, 16000)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, "", fmt.Errorf("asr: create form file: %w", err)
	}
	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("asr: write wav data: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("asr: close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}
