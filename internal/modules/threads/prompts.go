package threads

import "strings"

func promptThreadReply(title, transcript, contextText, userText string) (system string, user string) {
	system = `You are a helpful research assistant continuing a discussion thread about documents.
Ground every reply in the conversation and any provided document context. Be concise and specific.
If the documents and conversation do not cover the question, say so.`

	var b strings.Builder
	if strings.TrimSpace(title) != "" {
		b.WriteString("Thread title: " + strings.TrimSpace(title) + "\n\n")
	}
	if transcript != "" {
		b.WriteString("Conversation so far:\n" + transcript + "\n\n")
	}
	if contextText != "" {
		b.WriteString("Relevant context from documents:\n" + contextText + "\n\n")
	}
	b.WriteString("User: " + userText + "\n\nReply:")
	return system, b.String()
}
