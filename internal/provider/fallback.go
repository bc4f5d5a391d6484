package provider

import "strings"

// fallbackSampleRunes bounds how much of the prompt the fallback echoes back.
const fallbackSampleRunes = 80

// Fallback produces the deterministic degraded response used when the primary
// path is unavailable or too slow. Pure function: no side effects, no failure
// modes. This is the availability floor of the gateway.
func Fallback(payload Payload) Result {
	prompt := strings.TrimSpace(payload.Prompt)
	if prompt == "" {
		return Result{Text: "[FALLBACK] I’m here and responsive. Try again in a moment."}
	}
	sample := strings.ReplaceAll(truncate(prompt, fallbackSampleRunes), "\n", " ")
	return Result{Text: "[FALLBACK] Quick tip: stay consistent. (You said: “" + sample + "…”)"}
}
