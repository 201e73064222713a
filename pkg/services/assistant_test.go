package services

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeModel replays a scripted sequence of replies regardless of whether the
// turn came in via Send or SendToolResults, and records everything it saw.
type fakeStep struct {
	reply *ModelReply
	err   error
}

type fakeModel struct {
	steps   []fakeStep
	step    int
	opened  int
	sent    []string
	fedBack [][]ToolResult
}

func (f *fakeModel) NewChat(history []ChatMessage, tools []ToolDecl) ChatSession {
	f.opened++
	return &fakeChatSession{m: f}
}

func (f *fakeModel) next() (*ModelReply, error) {
	if f.step >= len(f.steps) {
		return &ModelReply{Text: "ok"}, nil
	}
	s := f.steps[f.step]
	f.step++
	return s.reply, s.err
}

type fakeChatSession struct{ m *fakeModel }

func (c *fakeChatSession) Send(ctx context.Context, text string) (*ModelReply, error) {
	c.m.sent = append(c.m.sent, text)
	return c.m.next()
}

func (c *fakeChatSession) SendToolResults(ctx context.Context, results []ToolResult) (*ModelReply, error) {
	c.m.fedBack = append(c.m.fedBack, results)
	return c.m.next()
}

func newTestAssistant(t *testing.T, model ChatModel) (*Assistant, *ToolRegistry) {
	t.Helper()
	db := newTestDB(t)
	seedCatalog(t, db)
	tools := NewToolRegistry(db)
	return NewAssistant(model, tools), tools
}

func TestAnswerEmptyTextReturnsGreeting(t *testing.T) {
	fake := &fakeModel{}
	a, _ := newTestAssistant(t, fake)

	if got := a.Answer(context.Background(), nil, "   "); got != GreetingText {
		t.Fatalf("expected greeting for empty input, got %q", got)
	}
	if fake.opened != 0 {
		t.Fatalf("model should not be opened for empty input")
	}
}

func TestQuickReplySkipsModel(t *testing.T) {
	fake := &fakeModel{}
	a, _ := newTestAssistant(t, fake)

	got := a.Answer(context.Background(), nil, "contact support")
	if !strings.Contains(got, "/contact") {
		t.Fatalf("expected support quick reply, got %q", got)
	}
	if fake.opened != 0 {
		t.Fatalf("quick command must not open a model chat")
	}
}

func TestQuotedTitleAnsweredFromInventory(t *testing.T) {
	fake := &fakeModel{}
	a, _ := newTestAssistant(t, fake)

	got := a.Answer(context.Background(), nil, `do you have "Things Fall Apart"?`)
	if !strings.Contains(got, "Things Fall Apart") {
		t.Fatalf("expected title in answer, got %q", got)
	}
	if !strings.Contains(got, "Free") {
		t.Fatalf("expected price label in answer, got %q", got)
	}
	if !strings.Contains(got, "/products/ebooks") {
		t.Fatalf("expected store link in answer, got %q", got)
	}
	if fake.opened != 0 {
		t.Fatalf("direct inventory hit must skip the model, opened=%d", fake.opened)
	}
}

func TestPlainReplyEndsLoop(t *testing.T) {
	fake := &fakeModel{steps: []fakeStep{
		{reply: &ModelReply{Text: "We accept cards and bank transfer."}},
	}}
	a, _ := newTestAssistant(t, fake)

	got := a.Answer(context.Background(), nil, "what payment methods do you accept?")
	if got != "We accept cards and bank transfer." {
		t.Fatalf("expected model text passed through, got %q", got)
	}
	if len(fake.sent) != 1 || len(fake.fedBack) != 0 {
		t.Fatalf("expected exactly one Send and no tool rounds, sent=%d fedBack=%d", len(fake.sent), len(fake.fedBack))
	}
}

func TestExecutesAllToolCallsInOneTurn(t *testing.T) {
	fake := &fakeModel{steps: []fakeStep{
		{reply: &ModelReply{Calls: []ToolCall{
			{Name: "search_inventory", Args: map[string]any{"query": "hibiscus"}},
			{Name: "lookup_post", Args: map[string]any{"query": "redeem"}},
		}}},
		{reply: &ModelReply{Text: "Here is what I found."}},
	}}
	a, _ := newTestAssistant(t, fake)

	got := a.Answer(context.Background(), nil, "tell me about your store")
	if got != "Here is what I found." {
		t.Fatalf("expected final model text, got %q", got)
	}
	if len(fake.fedBack) != 1 {
		t.Fatalf("expected one tool round, got %d", len(fake.fedBack))
	}
	results := fake.fedBack[0]
	if len(results) != 2 {
		t.Fatalf("expected both calls of the turn executed, got %d results", len(results))
	}
	if results[0].Name != "search_inventory" || results[1].Name != "lookup_post" {
		t.Fatalf("results out of order: %s, %s", results[0].Name, results[1].Name)
	}
	if _, ok := results[0].Data["ebooks"]; !ok {
		t.Fatalf("expected inventory data in first result, got %v", results[0].Data)
	}
}

func TestUnknownToolReportedToModel(t *testing.T) {
	fake := &fakeModel{steps: []fakeStep{
		{reply: &ModelReply{Calls: []ToolCall{{Name: "mystery_tool"}}}},
		{reply: &ModelReply{Text: "Sorry, I cannot do that."}},
	}}
	a, _ := newTestAssistant(t, fake)

	got := a.Answer(context.Background(), nil, "run the mystery tool")
	if got != "Sorry, I cannot do that." {
		t.Fatalf("expected model to narrate the failure, got %q", got)
	}
	if len(fake.fedBack) != 1 || len(fake.fedBack[0]) != 1 {
		t.Fatalf("expected the unknown call fed back once, got %v", fake.fedBack)
	}
	msg, _ := fake.fedBack[0][0].Data["error"].(string)
	if !strings.Contains(msg, "unknown tool") {
		t.Fatalf("expected unknown-tool error object, got %v", fake.fedBack[0][0].Data)
	}
}

func TestToolLoopBounded(t *testing.T) {
	// model that calls tools forever
	looping := make([]fakeStep, 0, 16)
	for i := 0; i < 16; i++ {
		looping = append(looping, fakeStep{reply: &ModelReply{Calls: []ToolCall{
			{Name: "lookup_post", Args: map[string]any{"query": "redeem"}},
		}}})
	}
	fake := &fakeModel{steps: looping}
	a, _ := newTestAssistant(t, fake)

	got := a.Answer(context.Background(), nil, "keep calling tools please")
	if got != ApologyText {
		t.Fatalf("expected apology after exceeding tool rounds, got %q", got)
	}
	if len(fake.fedBack) != a.maxRounds {
		t.Fatalf("expected exactly %d tool rounds, got %d", a.maxRounds, len(fake.fedBack))
	}
}

func TestModelErrorReturnsApology(t *testing.T) {
	fake := &fakeModel{steps: []fakeStep{
		{err: errors.New("status 500: upstream exploded")},
	}}
	a, _ := newTestAssistant(t, fake)

	if got := a.Answer(context.Background(), nil, "anything at all"); got != ApologyText {
		t.Fatalf("expected apology on model error, got %q", got)
	}
}

func TestGeminiDisabledFallsBackLocally(t *testing.T) {
	fake := &fakeModel{steps: []fakeStep{{err: ErrGeminiDisabled}}}
	a, _ := newTestAssistant(t, fake)

	got := a.Answer(context.Background(), nil, "tell me about delivery options")
	if got == ApologyText {
		t.Fatalf("disabled model must use the local fallback, not the apology")
	}
	if !strings.Contains(got, "/contact") {
		t.Fatalf("expected local fallback text, got %q", got)
	}
}

func TestNilModelUsesLocalFallback(t *testing.T) {
	a, _ := newTestAssistant(t, nil)

	got := a.Answer(context.Background(), nil, "tell me about delivery options")
	if got == "" || got == ApologyText {
		t.Fatalf("expected local fallback answer, got %q", got)
	}
}

func TestBookQueryMissGoesToModel(t *testing.T) {
	fake := &fakeModel{steps: []fakeStep{
		{reply: &ModelReply{Text: "We don't carry that title, sorry."}},
	}}
	a, _ := newTestAssistant(t, fake)

	got := a.Answer(context.Background(), nil, `do you have "The Hobbit"?`)
	if got != "We don't carry that title, sorry." {
		t.Fatalf("expected model answer after inventory miss, got %q", got)
	}
	if fake.opened != 1 {
		t.Fatalf("expected one model chat, got %d", fake.opened)
	}
}

func TestTitleQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`do you have "Things Fall Apart"?`, "Things Fall Apart"},
		{"do you have purple hibiscus in stock", "purple hibiscus"},
		{"I am looking for the book called half of a yellow sun", "half yellow sun"},
		{"“Half of a Yellow Sun”", "Half of a Yellow Sun"},
	}
	for _, c := range cases {
		if got := titleQuery(c.in); got != c.want {
			t.Fatalf("titleQuery(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsBookQuery(t *testing.T) {
	if !isBookQuery(`any "Purple Hibiscus" left?`) {
		t.Fatalf("quoted text should count as a book query")
	}
	if !isBookQuery("do you have anything by Achebe") {
		t.Fatalf("cue phrase should count as a book query")
	}
	if isBookQuery("how do I reset my password") {
		t.Fatalf("account question is not a book query")
	}
}
