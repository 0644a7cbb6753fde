// Package enrich extracts structured event details from ride websites.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
)

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

const extractionPrompt = `You are given the text of an endurance ride event website.
Event name: %s
Event date: %s
Event location: %s

Extract the following fields as a single JSON object. Omit keys you
cannot find. Use plain strings for values.
- "directions": how to reach the ride camp
- "amenities": camping, water, meals, stabling and similar
- "hazards": terrain or weather warnings
- "veterinarians": vet or control judge names mentioned
- "registration_info": how and when to enter
- "cost_info": entry fees
- "requirements": rider or horse requirements

Website text:
%s`

// Gemini calls the Generative Language REST API to pull structured
// details out of page text.
type Gemini struct {
	client  *http.Client
	apiKey  string
	model   string
	baseURL string
}

var _ events.DetailExtractor = (*Gemini)(nil)

// NewGemini creates the extractor. The timeout bounds a single API
// call.
func NewGemini(apiKey, model string, timeout time.Duration) *Gemini {
	return &Gemini{
		client:  &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		model:   model,
		baseURL: geminiEndpoint,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Extract sends the page text to the model and decodes the JSON it
// returns, repairing the common formatting slips first.
func (g *Gemini) Extract(ctx context.Context, text string, hints events.ExtractionHints) (events.Details, error) {
	start := time.Now()
	defer func() { metrics.ObserveProviderCall("gemini", time.Since(start)) }()

	prompt := fmt.Sprintf(extractionPrompt, hints.Name, hints.Date, hints.Location, text)

	reqBody := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenConfig{
			Temperature:      0.1,
			ResponseMimeType: "application/json",
		},
	}

	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode extraction request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call extraction model: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read extraction response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction model returned http %d", resp.StatusCode)
	}

	var decoded geminiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode extraction envelope: %w", err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("extraction model returned no candidates")
	}

	return RecoverJSON(decoded.Candidates[0].Content.Parts[0].Text)
}

var (
	codeFence     = regexp.MustCompile("(?s)```(?:json)?(.*?)```")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// RecoverJSON decodes model output that is almost JSON: fenced in
// markdown, wrapped in prose, or carrying trailing commas.
func RecoverJSON(text string) (events.Details, error) {
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	text = text[start : end+1]
	text = trailingComma.ReplaceAllString(text, "$1")

	var details events.Details
	if err := json.Unmarshal([]byte(text), &details); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	return details, nil
}
