// Package synth is the boundary to the external text-completion
// service used to synthesize prose for matched fields. The core treats
// it as a black box with a typed failure contract.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request is one synthesis call: assembled source passages plus the
// field's instructions and a token budget for the completion.
type Request struct {
	Bundle       string
	Instructions string
	MaxTokens    int
}

// Adapter produces synthesized text for a request, or a SynthesisError.
type Adapter interface {
	Synthesize(ctx context.Context, req Request) (string, error)
}

// Cause classifies a synthesis failure. Only transport failures are
// worth retrying; rate-limit and content-policy failures surface
// immediately.
type Cause string

const (
	CauseTransport Cause = "transport"
	CauseRateLimit Cause = "rate_limit"
	CausePolicy    Cause = "content_policy"
	CauseEmpty     Cause = "empty_completion"
)

// SynthesisError is the typed failure returned by adapters.
type SynthesisError struct {
	Cause   Cause
	Message string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s: %s", e.Cause, e.Message)
}

// IsRetryable reports whether an error is a transient transport
// failure worth retrying.
func IsRetryable(err error) bool {
	var se *SynthesisError
	if errors.As(err, &se) {
		return se.Cause == CauseTransport
	}
	return false
}

const systemPrompt = `You are a medical writer preparing a drug safety report. Extract and synthesize content accurately from the provided source document sections.`

// buildUserPrompt formats a request the way the completion service
// expects: field instructions, then the source bundle, then the
// writing rules.
func buildUserPrompt(req Request) string {
	var sb strings.Builder
	if req.Instructions != "" {
		sb.WriteString("Task: ")
		sb.WriteString(req.Instructions)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Source content:\n")
	sb.WriteString(req.Bundle)
	sb.WriteString("\n\nInstructions:\n")
	sb.WriteString("1. Extract relevant information from the sections above\n")
	sb.WriteString("2. Synthesize into cohesive, well-written content\n")
	sb.WriteString("3. Use formal medical/scientific writing style\n")
	sb.WriteString("4. Be concise but comprehensive\n")
	sb.WriteString("5. Do not include reference citations\n")
	sb.WriteString("6. If the source content is insufficient, note what is missing\n")
	sb.WriteString("\nOutput the synthesized content only, with no preamble.")
	return sb.String()
}
