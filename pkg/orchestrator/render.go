package orchestrator

import "strings"

// providerKinds are the error kinds of the LLM provider tasks, lowercased
var providerKinds = []string{"anthropicerror", "openaierror"}

type renderRule struct {
	// kinds restricts the rule to these lowercased error kinds; nil matches any
	kinds    []string
	match    []string
	friendly string
}

// renderRules are checked in order against the lowercased worker error
var renderRules = []renderRule{
	{
		match:    []string{"context length", "context_length_exceeded", "maximum context", "prompt is too long"},
		friendly: "The conversation is too long for the model. Start a new chat and try again.",
	},
	{
		kinds:    providerKinds,
		match:    []string{"status 429", "status 529", "rate_limit", "overloaded"},
		friendly: "The model is busy right now. Please retry in a moment.",
	},
	{
		kinds:    providerKinds,
		match:    []string{"status 401", "status 403", "authentication_error", "permission_error"},
		friendly: "The model provider rejected the credentials. Please contact the administrator.",
	},
	{
		match:    []string{"api key not configured"},
		friendly: "The model provider rejected the credentials. Please contact the administrator.",
	},
	{
		kinds:    []string{"workertimeout"},
		friendly: "The task ran longer than allowed and was stopped.",
	},
}

func (r renderRule) applies(kind, lower string) bool {
	if r.kinds != nil && !contains(r.kinds, kind) {
		return false
	}
	if len(r.match) == 0 {
		return true
	}
	for _, m := range r.match {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// RenderError turns a "Kind: message" worker error into the text shown to
// the user. Unknown errors pass through unchanged.
func RenderError(raw string) string {
	lower := strings.ToLower(raw)
	kind, _, _ := strings.Cut(lower, ":")
	kind = strings.TrimSpace(kind)

	for _, rule := range renderRules {
		if rule.applies(kind, lower) {
			return rule.friendly
		}
	}
	return raw
}
