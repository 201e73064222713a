package services

import (
	"context"
	"fmt"
	"strings"

	utils "BookAI/pkg/utills"
)

// AskSupportLocal is the structured local fallback used when Gemini is
// disabled or returns nothing; keeps the UX consistent without a model.
func AskSupportLocal(ctx context.Context, chat []ChatMessage) string {
	var last string
	if len(chat) > 0 {
		last = strings.TrimSpace(chat[len(chat)-1].Text)
	}
	if last == "" {
		last = "your question"
	}
	b := &strings.Builder{}
	fmt.Fprintf(b, "Thanks for your message about: %s\n\n", utils.Truncate(last, 60))
	fmt.Fprintln(b, "Here is what you can do right away:")
	fmt.Fprintln(b, "1) Browse all e-books at /products/ebooks (search by title or author).")
	fmt.Fprintln(b, "2) Check product pages for availability, price and format.")
	fmt.Fprintln(b, "3) For orders, payments or disputes, open your account dashboard.")
	fmt.Fprintln(b, "\nIf you need a human, use the contact form at /contact and our team")
	fmt.Fprintln(b, "will get back to you within one business day.")
	return b.String()
}
