package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/JNickson/cluster-incident-agent/internal/signals"
)

const systemPrompt = "You are an SRE incident analysis assistant.\n" +
	"Analyze the Kubernetes incident data provided as JSON.\n" +
	"Do NOT invent facts.\n" +
	"Do NOT suggest executing commands.\n" +
	"Respond with a JSON object containing root_cause (string), " +
	"confidence (number between 0 and 1) and recommended_memory " +
	"(a Kubernetes quantity such as 256Mi), optionally followed by an explanation."

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Client talks to an Ollama-style generate endpoint. One call carries exactly
// one incident context; batching incidents into a shared prompt would make
// explanations unattributable.
type Client struct {
	httpClient *http.Client
	endpoint   string
	model      string
	timeout    time.Duration
}

func NewClient(endpoint, model string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		model:      model,
		timeout:    timeout,
	}
}

// Analyze sends the incident context and returns a fully populated Result
// under every backend condition: timeout, connection failure, non-2xx status,
// empty or unparsable output all degrade instead of erroring.
func (c *Client) Analyze(ctx context.Context, ictx signals.Context, currentLimit resource.Quantity) Result {
	prompt, err := buildPrompt(ictx)
	if err != nil {
		return degradedResult(fmt.Sprintf("prompt build failed: %v", err), currentLimit)
	}

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return degradedResult(fmt.Sprintf("request encode failed: %v", err), currentLimit)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return degradedResult(fmt.Sprintf("request build failed: %v", err), currentLimit)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return degradedResult(fmt.Sprintf("backend unreachable: %v", err), currentLimit)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return degradedResult(fmt.Sprintf("backend returned status %d", resp.StatusCode), currentLimit)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return degradedResult(fmt.Sprintf("response decode failed: %v", err), currentLimit)
	}

	if gen.Response == "" {
		return degradedResult("empty response", currentLimit)
	}

	return parseResponse(gen.Response, currentLimit)
}

func buildPrompt(ictx signals.Context) (string, error) {
	data, err := json.MarshalIndent(ictx, "", "  ")
	if err != nil {
		return "", err
	}

	return systemPrompt + "\n\nAnalyze the following Kubernetes incident:\n\n" + string(data), nil
}
