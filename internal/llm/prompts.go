package llm

import (
	"fmt"
	"strconv"
	"strings"
)

// NoInformationAnswer is what the model is told to say when the retrieved
// context does not cover the question.
const NoInformationAnswer = "The dataset does not provide information about this error."

const answerSystemPrompt = `You are a Windows troubleshooting assistant.
Based only on the information provided in the context, answer the user's question in English.
Your answer must strictly follow this structured format:

---
**Error Overview**
(Briefly describe what the error is and when it happens)

**Symptoms**
- List the common symptoms or signs when this error occurs

**Causes**
- List the possible causes of this error (e.g., corrupted system files, registry issues, Active Directory problems, etc.)

**Solutions**
- Provide recommended solutions or step-by-step fixes to resolve the issue
---

Instructions:
- Only use information from the context.
- If the context does not contain relevant information, clearly state:
  "` + NoInformationAnswer + `"
- Do not fabricate or assume facts.
- Always answer in English only.`

func AnswerPrompt(question string, contexts []string) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, c := range contexts {
		fmt.Fprintf(&b, "\n[%d]\n%s\n", i+1, c)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n\nAnswer:", question)
	return b.String()
}

func RatingPrompt(question, answer string) string {
	return fmt.Sprintf(`Question: %s
Answer: %s

From 0 to 100, how confident are you that the answer fully matches the context and is correct?
Reply with only a number (0-100).`, question, answer)
}

// ParseScore reads a 0-100 score from a model reply such as "85" or "85%".
func ParseScore(reply string) (float64, bool) {
	s := strings.TrimSpace(reply)
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}
