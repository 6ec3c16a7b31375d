package llm

import "strings"

const maxPromptChars = 8000

const systemPrompt = "You are an extraction assistant. Extract structured fields from the provided document text. " +
	"Return ONLY a JSON object with the keys doc_type, invoice_number, invoice_date, total_amount and currency. " +
	"doc_type is one of invoice, receipt or unknown. " +
	"invoice_number is the invoice or transaction number. " +
	"invoice_date uses the format YYYY-MM-DD. " +
	"total_amount is the total payable amount as a number. " +
	"currency is a three-letter ISO 4217 code such as USD, EUR or GBP. " +
	"Use null for any field that is not present."

func buildUserPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Document text:\n\n")
	if len(text) > maxPromptChars {
		b.WriteString(text[:maxPromptChars])
	} else {
		b.WriteString(text)
	}
	b.WriteString("\n\nReturn ONLY valid JSON, with no extra text before or after.")
	return b.String()
}
