// Package llm adapts chat completion backends to the dialogue contract.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chadiek/phone-agent/internal/agent"
)

const systemPrompt = `You are a friendly phone receptionist for a real estate agency.
Keep replies short and natural, at most two sentences, because they are read aloud.
Never use markdown, lists, or emojis.
If the caller asks for a human agent, respond with exactly TRANSFER_REQUESTED and nothing else.
If the caller wants to end the call or says goodbye, respond with exactly CALL_ENDED and nothing else.`

const (
	transferMarker = "TRANSFER_REQUESTED"
	endMarker      = "CALL_ENDED"

	transferReply = "I understand. Let me transfer you to one of our human agents. Please hold for just a moment."
	farewellReply = "Thank you for calling. Have a wonderful day!"
)

type CerebrasClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

func NewCerebrasClient(apiKey, model string) *CerebrasClient {
	return &CerebrasClient{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		APIKey:     apiKey,
		Model:      model,
	}
}

// Respond sends the full conversation so far and maps the model's
// control markers onto call actions before the text reaches synthesis.
func (c *CerebrasClient) Respond(ctx context.Context, history []agent.Message) (agent.Reply, error) {
	if c.APIKey == "" {
		return agent.Reply{}, fmt.Errorf("cerebras api key missing")
	}
	endpoint := "https://api.cerebras.ai/v1/chat/completions"

	messages := make([]chatMessage, 0, len(history)+1)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Text})
	}

	reqBody, _ := json.Marshal(chatCompletionsRequest{Model: c.Model, Messages: messages})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return agent.Reply{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return agent.Reply{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return agent.Reply{}, fmt.Errorf("cerebras error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return agent.Reply{}, err
	}
	if len(cr.Choices) == 0 {
		return agent.Reply{}, fmt.Errorf("cerebras: empty choices")
	}
	return parseReply(cr.Choices[0].Message.Content), nil
}

// parseReply replaces marker responses with canned spoken text so the
// caller never hears the control token itself.
func parseReply(text string) agent.Reply {
	text = strings.TrimSpace(text)
	switch {
	case strings.Contains(text, transferMarker):
		return agent.Reply{Text: transferReply, Action: agent.ActionTransfer}
	case strings.Contains(text, endMarker):
		return agent.Reply{Text: farewellReply, Action: agent.ActionEnd}
	}
	return agent.Reply{Text: text, Action: agent.ActionContinue}
}
