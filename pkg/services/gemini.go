package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"BookAI/pkg/config"
)

type GeminiService struct {
	apiKey  string
	enabled bool
}

var (
	ErrGeminiDisabled = errors.New("gemini is disabled via config")
)

func NewGeminiService() *GeminiService {
	return &GeminiService{
		apiKey:  config.GeminiAPIKey,
		enabled: config.IsGeminiEnabled,
	}
}

// ChatMessage is one prior turn fed into a chat session.
type ChatMessage struct {
	Role string // "user" or "model"
	Text string
}

// ToolCall is a structured function call emitted by the model.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolResult is the JSON-serializable outcome of executing one tool call.
type ToolResult struct {
	Name string
	Data map[string]any
}

// ToolDecl declares a callable tool to the model. Params is a JSON schema
// for the arguments object.
type ToolDecl struct {
	Name        string
	Description string
	Params      map[string]any
}

// ModelReply is one model turn: either plain text, or one or more tool calls.
type ModelReply struct {
	Text  string
	Calls []ToolCall
}

// ChatSession is a stateful model conversation.
type ChatSession interface {
	Send(ctx context.Context, text string) (*ModelReply, error)
	SendToolResults(ctx context.Context, results []ToolResult) (*ModelReply, error)
}

// ChatModel opens chat sessions. The dispatcher depends on this interface so
// tests can substitute a stub for the real Gemini backend.
type ChatModel interface {
	NewChat(history []ChatMessage, tools []ToolDecl) ChatSession
}

const supportSystemPrompt = "You are the customer support assistant of an online bookstore. " +
	"Answer briefly and politely in plain text. Use the provided lookup tools for any question " +
	"about titles, availability, prices, recommendations or articles instead of guessing. " +
	"When a tool returns an error or no matches, explain that to the customer and suggest " +
	"browsing /products/ebooks or contacting support at /contact."

// wire types for the generateContent payload

type genPart struct {
	Text             string       `json:"text,omitempty"`
	FunctionCall     *genFuncCall `json:"functionCall,omitempty"`
	FunctionResponse *genFuncResp `json:"functionResponse,omitempty"`
}

type genFuncCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type genFuncResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type genContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []genPart `json:"parts"`
}

type genResponse struct {
	Candidates []struct {
		Content genContent `json:"content"`
	} `json:"candidates"`
}

type geminiChat struct {
	svc      *GeminiService
	contents []genContent
	tools    []ToolDecl
}

// NewChat opens a stateful chat seeded with prior turns.
func (s *GeminiService) NewChat(history []ChatMessage, tools []ToolDecl) ChatSession {
	contents := make([]genContent, 0, len(history)+2)
	for _, m := range history {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != "user" && role != "model" {
			role = "user"
		}
		contents = append(contents, genContent{Role: role, Parts: []genPart{{Text: m.Text}}})
	}
	return &geminiChat{svc: s, contents: contents, tools: tools}
}

func (c *geminiChat) Send(ctx context.Context, text string) (*ModelReply, error) {
	c.contents = append(c.contents, genContent{Role: "user", Parts: []genPart{{Text: text}}})
	return c.generate(ctx)
}

func (c *geminiChat) SendToolResults(ctx context.Context, results []ToolResult) (*ModelReply, error) {
	parts := make([]genPart, 0, len(results))
	for _, r := range results {
		parts = append(parts, genPart{FunctionResponse: &genFuncResp{Name: r.Name, Response: r.Data}})
	}
	c.contents = append(c.contents, genContent{Role: "user", Parts: parts})
	return c.generate(ctx)
}

func (c *geminiChat) generate(ctx context.Context) (*ModelReply, error) {
	s := c.svc
	if !s.enabled {
		log.Printf("[gemini] disabled via config (IsGeminiEnabled=false)")
		return nil, ErrGeminiDisabled
	}
	if strings.TrimSpace(s.apiKey) == "" {
		log.Printf("[gemini] GEMINI_API_KEY is not set")
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}

	bodyBytes, err := c.payload()
	if err != nil {
		return nil, err
	}

	models := []string{config.GeminiModel, "gemini-2.0-flash"}
	tried := make(map[string]error)

	for _, m := range models {
		if strings.TrimSpace(m) == "" {
			continue
		}
		content, err := s.callGenerateContent(ctx, m, bodyBytes)
		if err != nil && isRetriable(err) {
			sleepWithContext(ctx, 2*time.Second)
			content, err = s.callGenerateContent(ctx, m, bodyBytes)
		}
		if err == nil && content != nil {
			// record the model turn so the next Send continues the chat
			c.contents = append(c.contents, *content)
			return replyFromContent(content), nil
		}
		if err != nil {
			tried[m] = err
			log.Printf("[gemini] model %s failed: %v", m, err)
		}
	}

	var b strings.Builder
	b.WriteString("all gemini models failed: ")
	first := true
	for m, e := range tried {
		if !first {
			b.WriteString("; ")
		}
		first = false
		b.WriteString(fmt.Sprintf("%s -> %v", m, e))
	}
	return nil, errors.New(b.String())
}

func (c *geminiChat) payload() ([]byte, error) {
	reqBody := map[string]any{
		"systemInstruction": map[string]any{
			"parts": []any{map[string]any{"text": supportSystemPrompt}},
		},
		"contents": c.contents,
		"generationConfig": map[string]any{
			"temperature":     0.6,
			"maxOutputTokens": 2048,
			"topK":            40,
			"topP":            0.9,
		},
	}
	if len(c.tools) > 0 {
		decls := make([]any, 0, len(c.tools))
		for _, t := range c.tools {
			d := map[string]any{
				"name":        t.Name,
				"description": t.Description,
			}
			if t.Params != nil {
				d["parameters"] = t.Params
			}
			decls = append(decls, d)
		}
		reqBody["tools"] = []any{map[string]any{"functionDeclarations": decls}}
	}
	return json.Marshal(reqBody)
}

func (s *GeminiService) callGenerateContent(ctx context.Context, model string, body []byte) (*genContent, error) {
	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", model, s.apiKey)
	log.Printf("[gemini] using model %s", model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBytes)))
	}

	var parsed genResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response: %s", utilsTruncateBody(respBytes))
	}
	content := parsed.Candidates[0].Content
	if content.Role == "" {
		content.Role = "model"
	}
	return &content, nil
}

func replyFromContent(content *genContent) *ModelReply {
	reply := &ModelReply{}
	var text strings.Builder
	for _, p := range content.Parts {
		if p.FunctionCall != nil {
			reply.Calls = append(reply.Calls, ToolCall{Name: p.FunctionCall.Name, Args: p.FunctionCall.Args})
		}
		if p.Text != "" {
			text.WriteString(p.Text)
		}
	}
	reply.Text = strings.TrimSpace(text.String())
	return reply
}

func utilsTruncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}

func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	e := strings.ToLower(err.Error())
	if strings.Contains(e, "status 503") || strings.Contains(e, "unavailable") {
		return true
	}
	if strings.Contains(e, "status 429") || strings.Contains(e, "resource_exhausted") || strings.Contains(e, "quota") {
		return true
	}
	return false
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
