package answer

import (
	"strconv"
	"strings"
)

const promptHeader = `You are a document-grounded AI assistant.

CRITICAL RULES:
- Answer using ONLY the information present in the Context.
- Do NOT use external knowledge or assumptions.
- Do NOT mention the context, documents, or what is missing.
- Do NOT add disclaimers such as:
  "no other information is available",
  "explicitly mentioned",
  "not provided in the context",
  or similar phrases.
- If the answer is not present at all, respond ONLY with:
  "` + RefusalMessage + `"
`

const styleRules = `Answer Style Rules:
- Provide ONLY the requested information
- Do NOT explain omissions
- Do NOT add concluding or meta statements
- Be concise and factual
- Use bullet points or short paragraphs if helpful
`

// BuildPrompt renders the grounded answering prompt.
func BuildPrompt(query, context, instruction string, summaryLength int) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\nUser Question:\n")
	b.WriteString(query)
	b.WriteString("\n\nContext:\n")
	b.WriteString(context)
	b.WriteString("\n\nAnswering Instructions:\n")
	b.WriteString(instruction)
	b.WriteString("\n\n")
	b.WriteString(styleRules)
	b.WriteString("- Maximum length: ")
	b.WriteString(strconv.Itoa(summaryLength))
	b.WriteString(" words\n\nFinal Answer:\n")
	return b.String()
}
