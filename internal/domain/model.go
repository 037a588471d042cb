package domain

// Pricing is the cost of one token in USD cents (CalculateCostCents
// multiplies token counts by these values directly).
type Pricing struct {
	InputPerToken  float64
	OutputPerToken float64
}

// ModelDescriptor describes one (provider, id) pair. Lookup by the pair
// is total: unknown pairs return a typed NotFound, never a nil sentinel.
type ModelDescriptor struct {
	Provider     string
	ID           string
	DisplayName  string
	Capabilities []string
	ContextWindow int
	Deprecated   bool
	Replacement  string
	Pricing      *Pricing // nil when pricing is unknown
}

// CalculateCostCents returns nil when pricing is unknown (spec §4.G step 9:
// "missing pricing -> record with cost_cents = null, do not debit").
func (m ModelDescriptor) CalculateCostCents(promptTokens, completionTokens int) *float64 {
	if m.Pricing == nil {
		return nil
	}
	cost := float64(promptTokens)*m.Pricing.InputPerToken + float64(completionTokens)*m.Pricing.OutputPerToken
	return &cost
}

// ModelRestrictions is the per-provider allow/block/pattern configuration
// enforced by the Model Registry (§4.E).
type ModelRestrictions struct {
	AllowedModels   []string
	AllowedPatterns []string
	BlockedModels   []string
}

// ModelNotAllowedError carries up to three suggestions, as required by
// §4.E.
type ModelNotAllowedError struct {
	Provider    string
	Model       string
	Suggestions []string
}

func (e *ModelNotAllowedError) Error() string {
	return "model '" + e.Model + "' not allowed for provider '" + e.Provider + "'"
}
