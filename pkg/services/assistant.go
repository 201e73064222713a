package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"BookAI/pkg/config"
	utils "BookAI/pkg/utills"
)

// ApologyText is the fixed user-facing reply for any failure inside the
// dispatcher loop. It is never cached (see pkg/cache).
const ApologyText = "Sorry, something went wrong on our side. Please try again in a moment, " +
	"or reach our support team via /contact and we'll get back to you."

// GreetingText seeds a brand-new conversation.
const GreetingText = "Hi! I'm the store assistant. Ask me about any book or e-book, " +
	"availability, prices, or your orders — or type \"contact support\" to reach a human."

// Assistant is the message dispatcher: quick commands first, then a
// proactive inventory lookup for book-ish queries, then the model tool loop.
type Assistant struct {
	model     ChatModel // nil means no model configured; fall back to local answers
	tools     *ToolRegistry
	maxRounds int
}

func NewAssistant(model ChatModel, tools *ToolRegistry) *Assistant {
	rounds := config.MaxToolRounds
	if rounds <= 0 {
		rounds = 4
	}
	return &Assistant{model: model, tools: tools, maxRounds: rounds}
}

var (
	reContactSupport = regexp.MustCompile(`(?i)\b(contact|talk to|reach|speak (to|with))\b.*\b(support|human|agent|someone)\b|^\s*contact\s+support\s*$`)
	reBrowseEbooks   = regexp.MustCompile(`(?i)\b(browse|show|see|list)\b.*\be-?books?\b|^\s*browse\s+e-?books?\s*$`)
	reShipping       = regexp.MustCompile(`(?i)\b(shipping|delivery|ship)\b.*\b(cost|time|long|fee|policy)\b|\bhow long\b.*\b(ship|deliver)`)

	reNotFound = regexp.MustCompile(`(?i)couldn'?t find|could not find|unable to find|don'?t (seem to )?have|no (results|matches)`)

	bookCues = []string{
		"book", "ebook", "e-book", "title", "author",
		"do you have", "do you sell", "looking for", "in stock", "available",
	}
)

// Answer runs the full pipeline for one user turn and always returns a
// non-empty reply; every failure class degrades to a friendly static text.
func (a *Assistant) Answer(ctx context.Context, history []ChatMessage, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return GreetingText
	}

	if reply, ok := quickReply(text); ok {
		return reply
	}

	book := isBookQuery(text)
	if book {
		// latency/cost optimization: a direct hit skips the model entirely
		if data, ok := a.proactiveSearch(ctx, text); ok {
			return renderInventoryAnswer(data)
		}
	}

	if a.model == nil {
		return AskSupportLocal(ctx, appendTurn(history, text))
	}

	answer, err := a.converse(ctx, history, text)
	if err != nil {
		if errors.Is(err, ErrGeminiDisabled) {
			return AskSupportLocal(ctx, appendTurn(history, text))
		}
		log.Printf("[assistant] model loop failed: %v", err)
		return ApologyText
	}

	// one bounded re-check before accepting a negative answer for a book query
	if book && reNotFound.MatchString(answer) {
		if data, ok := a.proactiveSearch(ctx, text); ok {
			return renderInventoryAnswer(data)
		}
	}

	if strings.TrimSpace(answer) == "" {
		return AskSupportLocal(ctx, appendTurn(history, text))
	}
	return answer
}

// converse drives the model tool loop: execute every function call in a
// turn, feed the results back, and stop at the first plain-text reply.
func (a *Assistant) converse(ctx context.Context, history []ChatMessage, text string) (string, error) {
	chat := a.model.NewChat(history, a.tools.Declarations())
	reply, err := chat.Send(ctx, text)
	if err != nil {
		return "", err
	}
	for round := 0; round < a.maxRounds; round++ {
		if len(reply.Calls) == 0 {
			return reply.Text, nil
		}
		results := make([]ToolResult, 0, len(reply.Calls))
		for _, call := range reply.Calls {
			results = append(results, a.tools.Call(ctx, call))
		}
		reply, err = chat.SendToolResults(ctx, results)
		if err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(reply.Text) != "" {
		return reply.Text, nil
	}
	return "", fmt.Errorf("tool loop exceeded %d rounds", a.maxRounds)
}

func quickReply(text string) (string, bool) {
	switch {
	case reContactSupport.MatchString(text):
		return "You can reach our support team any time via the contact form at /contact " +
			"or by email at support@bookai.shop. We usually answer within one business day.", true
	case reBrowseEbooks.MatchString(text):
		return "You can browse our full e-book collection at /products/ebooks — " +
			"filters for category, price and format are in the sidebar.", true
	case reShipping.MatchString(text):
		return "Physical orders ship within 2 business days; e-books are delivered to your " +
			"account instantly after checkout. Shipping costs are shown at checkout before you pay.", true
	}
	return "", false
}

// isBookQuery: quoted substrings or keyword cues mark a title lookup.
func isBookQuery(text string) bool {
	if len(utils.ExtractQuoted(text)) > 0 {
		return true
	}
	low := utils.NormalizeSpace(text)
	for _, cue := range bookCues {
		if strings.Contains(low, cue) {
			return true
		}
	}
	return false
}

var fillerWords = map[string]bool{
	"do": true, "you": true, "have": true, "sell": true, "the": true, "a": true, "an": true,
	"is": true, "are": true, "any": true, "got": true, "i": true, "am": true, "im": true,
	"looking": true, "for": true, "book": true, "books": true, "ebook": true, "ebooks": true,
	"e-book": true, "e-books": true, "title": true, "titled": true, "called": true,
	"in": true, "stock": true, "available": true, "by": true, "of": true, "your": true,
}

// titleQuery extracts the likely title: the first quoted substring, else the
// text minus filler words.
func titleQuery(text string) string {
	if quoted := utils.ExtractQuoted(text); len(quoted) > 0 {
		return quoted[0]
	}
	var kept []string
	for _, w := range strings.Fields(utils.NormalizeSpace(text)) {
		w = strings.Trim(w, "?!.,;:")
		if w == "" || fillerWords[w] {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return strings.TrimSpace(text)
	}
	return strings.Join(kept, " ")
}

func (a *Assistant) proactiveSearch(ctx context.Context, text string) (map[string]any, bool) {
	q := titleQuery(text)
	if q == "" {
		return nil, false
	}
	data := a.tools.SearchInventory(ctx, q)
	if hasList(data, "ebooks") || hasList(data, "products") {
		return data, true
	}
	return nil, false
}

func hasList(data map[string]any, key string) bool {
	v, ok := data[key].([]map[string]any)
	return ok && len(v) > 0
}

// renderInventoryAnswer turns a search_inventory result into the direct
// answer shown when the model is skipped.
func renderInventoryAnswer(data map[string]any) string {
	b := &strings.Builder{}
	b.WriteString("Yes, we have that in stock:\n")
	if ebooks, ok := data["ebooks"].([]map[string]any); ok {
		for _, e := range ebooks {
			title, _ := e["title"].(string)
			author, _ := e["author"].(string)
			price, _ := e["price"].(string)
			if author != "" {
				fmt.Fprintf(b, "• %s by %s — %s\n", title, author, price)
			} else {
				fmt.Fprintf(b, "• %s — %s\n", title, price)
			}
		}
	}
	if products, ok := data["products"].([]map[string]any); ok {
		for _, p := range products {
			name, _ := p["name"].(string)
			price, _ := p["price"].(string)
			fmt.Fprintf(b, "• %s — %s\n", name, price)
		}
	}
	b.WriteString("\nYou can find these in our e-book store: /products/ebooks")
	return b.String()
}

func appendTurn(history []ChatMessage, text string) []ChatMessage {
	out := append(append([]ChatMessage(nil), history...), ChatMessage{Role: "user", Text: text})
	return out
}
