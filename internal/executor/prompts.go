package executor

import (
	"regexp"
	"strings"
	"sync"
)

// PromptCatalog resolves a prompt_id to text, with an optional
// per-provider override layer (spec §6 "providers[].system_prompts{}"
// shadowing the global "system_prompts{}" catalog).
type PromptCatalog struct {
	global      map[string]string
	perProvider map[string]map[string]string

	warnOnce sync.Map // prompt_id -> struct{}, one-shot fallback warning (spec §9 Open Question)
}

func NewPromptCatalog(global map[string]string) *PromptCatalog {
	return &PromptCatalog{
		global:      global,
		perProvider: make(map[string]map[string]string),
	}
}

// SetProviderPrompts installs provider-scoped overrides of the global
// catalog, applied before falling back to the global map.
func (c *PromptCatalog) SetProviderPrompts(provider string, prompts map[string]string) {
	if len(prompts) == 0 {
		return
	}
	c.perProvider[provider] = prompts
}

var placeholderRE = regexp.MustCompile(`\{(\w+)\}`)

// Resolve implements spec §4.G step 1: if promptID is a catalog key,
// its text is returned; otherwise promptID itself is treated as the
// literal prompt text. This ambiguity is preserved on purpose (spec §9
// Open Question) — warnedFallback reports whether this was the first
// time this exact promptID fell through to the literal-text path, so
// the caller can log a one-shot warning.
func (c *PromptCatalog) Resolve(provider, promptID string) (text string, warnedFallback bool) {
	if prompts, ok := c.perProvider[provider]; ok {
		if t, ok := prompts[promptID]; ok {
			return t, false
		}
	}
	if t, ok := c.global[promptID]; ok {
		return t, false
	}
	_, seen := c.warnOnce.LoadOrStore(promptID, struct{}{})
	return promptID, !seen
}

// Interpolate substitutes {var} placeholders against ctx, leaving any
// placeholder with no matching key untouched.
func Interpolate(text string, ctx map[string]string) string {
	if len(ctx) == 0 {
		return text
	}
	return placeholderRE.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "{"), "}")
		if v, ok := ctx[name]; ok {
			return v
		}
		return match
	})
}
