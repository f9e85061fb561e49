package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/careerpath/interviewcoach/server/domain/repositories"
)

const (
	openingInstruction  = "Begin the interview. Greet the candidate briefly and ask your first question."
	continueInstruction = "The candidate has not answered yet. Rephrase or continue with your question."
	// Below this much remaining time the interviewer starts wrapping up.
	wrapUpWindow = 2 * time.Minute
)

// systemPrompt describes the interviewer persona for one session
func systemPrompt(rc repositories.RoleContext) string {
	var b strings.Builder
	b.WriteString("You are a professional job interviewer conducting a spoken mock interview. ")
	b.WriteString("Ask one question at a time and keep every turn under three sentences, because it will be read aloud. ")
	b.WriteString("Do not use markdown, lists or emoji. React briefly to the previous answer before asking a follow-up.\n")

	if rc.TargetRole != "" {
		fmt.Fprintf(&b, "The candidate is interviewing for the role: %s.\n", rc.TargetRole)
	}
	if rc.CandidateName != "" {
		fmt.Fprintf(&b, "The candidate's name is %s.\n", rc.CandidateName)
	}
	if rc.Language != "" {
		fmt.Fprintf(&b, "Conduct the interview in the language with the tag %s.\n", rc.Language)
	}
	fmt.Fprintf(&b, "The candidate has answered %d questions so far.\n", rc.TurnCount)

	if rc.Remaining > 0 {
		fmt.Fprintf(&b, "About %d minutes remain.", int(rc.Remaining.Round(time.Minute)/time.Minute))
		if rc.Remaining <= wrapUpWindow {
			b.WriteString(" Time is nearly up: ask a final question or invite the candidate's questions.")
		}
		b.WriteString("\n")
	}
	return b.String()
}
