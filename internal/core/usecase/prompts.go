package usecase

import "fmt"

const blockSchemaInstruction = `Return ONLY a valid JSON object of the form:
{"blocks":[{"type":"paragraph","content":"..."},{"type":"list","items":["..."]},{"type":"code","language":"...","content":"..."},{"type":"heading","content":"..."}]}
Use paragraph blocks for prose, list blocks for enumerations, code blocks for code, heading blocks for section titles.
No markdown outside the JSON, no extra keys.`

func buildGeneralPrompt() string {
	return `You are a helpful assistant. Answer the user directly from your own knowledge.
` + blockSchemaInstruction
}

func buildRAGPrompt(contextText string) string {
	return fmt.Sprintf(`You are a knowledge-base assistant. Answer the user question ONLY from the context below.
If the context does not contain the answer, say so directly.

Context:
%s

%s`, contextText, blockSchemaInstruction)
}

func buildDecompositionPrompt(contextText, question string) string {
	if contextText == "" {
		contextText = "(no evidence retrieved yet)"
	}
	return fmt.Sprintf(`You are a retrieval planner. Decide whether the evidence below is sufficient to answer the question.
Return ONLY a valid JSON object:
{"sufficient": true|false, "queries": ["sub-question 1", "sub-question 2"]}
If the evidence is sufficient, set "sufficient": true and "queries": [].
If it is not, set "sufficient": false and list 1-3 focused sub-questions whose answers would complete the evidence.

Evidence:
%s

Question:
%s
`, contextText, question)
}
