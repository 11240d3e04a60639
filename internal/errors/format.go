package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal display.
// Collaborator failures name the failing service so users know where to look.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var sb strings.Builder
	if f, ok := AsCollaboratorFailure(err); ok {
		sb.WriteString(fmt.Sprintf("Error: %s unavailable (%s)\n", f.Collaborator, f.Op))
		sb.WriteString(fmt.Sprintf("  cause: %v\n", f.Err))
		sb.WriteString(fmt.Sprintf("  code:  %s", f.Code()))
		return sb.String()
	}

	code := GetCode(err)
	if code == "" {
		return "Error: " + err.Error()
	}

	var re *RAGError
	_ = stderrors.As(err, &re)
	sb.WriteString("Error: ")
	sb.WriteString(re.Message)
	if re.Suggestion != "" {
		sb.WriteString("\n  Suggestion: ")
		sb.WriteString(re.Suggestion)
	}
	sb.WriteString(fmt.Sprintf("\n  code: %s", code))
	return sb.String()
}
