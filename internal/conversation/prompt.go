package conversation

// ComposePrompt builds the agent input from the data dictionary and the
// user's question, which is passed through unmodified.
func ComposePrompt(template, question string) string {
	return "Use the data dictionary below for context:\n\n" + template + "\n\nQuestion: " + question
}
