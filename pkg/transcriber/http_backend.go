package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/kurogane-voice/yatagarasu-gate/pkg/audio"
)

// GeneralBackend talks to a local faster-whisper HTTP server, uploading
// each segment as a WAV file multipart form with the anti-hallucination
// parameters posted as additional form fields.
type GeneralBackend struct {
	url    string
	client *http.Client
}

// NewGeneralBackend builds a GeneralBackend posting to the given
// server URL (e.g. http://127.0.0.1:8765/transcribe).
func NewGeneralBackend(url string) *GeneralBackend {
	return &GeneralBackend{url: url, client: &http.Client{Timeout: 60 * time.Second}}
}

func (b *GeneralBackend) Name() string { return "faster-whisper" }

func (b *GeneralBackend) Transcribe(ctx context.Context, pcm []float32, sampleRate int, params Params) (string, error) {
	pcmI16 := toInt16Bytes(pcm)
	wavData := audio.EncodeWAV(pcmI16, sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := map[string]string{
		"beam_size":                   strconv.Itoa(params.BeamSize),
		"condition_on_previous_text":  strconv.FormatBool(params.ConditionOnPreviousText),
		"no_speech_threshold":         strconv.FormatFloat(params.NoSpeechThreshold, 'f', -1, 64),
		"log_prob_threshold":          strconv.FormatFloat(params.LogProbThreshold, 'f', -1, 64),
		"compression_ratio_threshold": strconv.FormatFloat(params.CompressionRatioThreshold, 'f', -1, 64),
	}
	if params.BestOf > 0 {
		fields["best_of"] = strconv.Itoa(params.BestOf)
	}
	if len(params.Temperature) > 0 {
		fields["temperature"] = formatTemperature(params.Temperature)
	}
	if params.Language != "" {
		fields["language"] = params.Language
	}
	if params.InitialPrompt != "" {
		fields["initial_prompt"] = params.InitialPrompt
	}
	if params.Hotwords != "" {
		fields["hotwords"] = params.Hotwords
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return "", err
		}
	}

	part, err := writer.CreateFormFile("file", "segment.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("faster-whisper server error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}

// DomainBackend talks to a local reazonspeech-k2 HTTP server. It takes
// no anti-hallucination parameters; the splitting for long segments
// happens one layer up in Facade.
type DomainBackend struct {
	url    string
	client *http.Client
}

// NewDomainBackend builds a DomainBackend posting to the given server
// URL (e.g. http://127.0.0.1:8766/transcribe).
func NewDomainBackend(url string) *DomainBackend {
	return &DomainBackend{url: url, client: &http.Client{Timeout: 60 * time.Second}}
}

func (b *DomainBackend) Name() string { return "reazonspeech-k2" }

func (b *DomainBackend) Transcribe(ctx context.Context, pcm []float32, sampleRate int, _ Params) (string, error) {
	pcmI16 := toInt16Bytes(pcm)
	wavData := audio.EncodeWAV(pcmI16, sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "segment.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("reazonspeech-k2 server error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}

func toInt16Bytes(pcm []float32) []byte {
	out := make([]byte, len(pcm)*2)
	for i, f := range pcm {
		v := int16(f * 32768.0)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
