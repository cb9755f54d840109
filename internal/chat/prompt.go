package chat

import (
	"strings"

	"github.com/kalambet/botsmith/internal/storage"
)

const charter = `You are designed to help with:
- Answering frequently asked questions
- Assisting with scheduling appointments
- Providing information about products or services
- Helping customers with general inquiries

Please provide helpful, accurate, and professional responses. If you don't know something specific about the business, politely say so and offer to help find the information or connect them with a human representative.`

// KnowledgeBase renders the processed training records of a bot as
// "From <file>:\n<content>" sections separated by blank lines. Records that
// are unprocessed or have no content are skipped.
func KnowledgeBase(records []storage.TrainingData) string {
	var parts []string
	for _, td := range records {
		if !td.Processed || td.Content == nil {
			continue
		}
		parts = append(parts, "From "+td.FileName+":\n"+*td.Content)
	}
	return strings.Join(parts, "\n\n")
}

// BuildSystemPrompt assembles the system message for a bot. An empty
// knowledge base omits its section entirely.
func BuildSystemPrompt(bot storage.Bot, knowledge string) string {
	var sb strings.Builder
	sb.WriteString("You are ")
	sb.WriteString(bot.Name)
	sb.WriteString(", an AI assistant for small businesses. ")
	if bot.Description != nil {
		sb.WriteString(*bot.Description)
	}
	sb.WriteString("\n\n")

	if knowledge != "" {
		sb.WriteString("You have been trained on the following knowledge base:\n\n")
		sb.WriteString(knowledge)
		sb.WriteString("\n\n")
	}

	sb.WriteString(charter)
	return sb.String()
}
