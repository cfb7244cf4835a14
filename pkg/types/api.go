package types

// RenderRequest is the payload for POST /render and a single item of a batch.
type RenderRequest struct {
	// Block name known to the loaded renderer artifact.
	// example: hero
	Block string `json:"block" example:"hero"`
	// Block properties. Must be a JSON object; may be empty.
	Props map[string]any `json:"props"`
}

// RenderResponse is returned by POST /render.
type RenderResponse struct {
	// True when html is present.
	// example: true
	OK bool `json:"ok" example:"true"`
	// Rendered markup.
	// example: <h1>Hi</h1>
	HTML string `json:"html,omitempty" example:"<h1>Hi</h1>"`
	// Error code when ok is false.
	// example: unsupported_block
	Error string `json:"error,omitempty" example:"unsupported_block"`
}

// BatchRenderRequest is the payload for POST /render-batch.
type BatchRenderRequest struct {
	// Ordered render items. Malformed items fail individually.
	Blocks []RenderRequest `json:"blocks"`
}

// BatchResult is the outcome of one batch item.
type BatchResult struct {
	// example: false
	OK bool `json:"ok" example:"false"`
	// example: <p>body</p>
	HTML string `json:"html,omitempty" example:"<p>body</p>"`
	// example: invalid_item
	Error string `json:"error,omitempty" example:"invalid_item"`
}

// BatchRenderResponse is returned by POST /render-batch.
type BatchRenderResponse struct {
	// example: true
	OK bool `json:"ok" example:"true"`
	// One result per requested item, in request order.
	Results []BatchResult `json:"results"`
}

// ForgeEventsRequest is the payload for POST /forge/events.
type ForgeEventsRequest struct {
	// Raw UX events; unknown types are dropped server-side.
	Events []map[string]any `json:"events"`
}

// ForgeEventsResponse is returned by POST /forge/events.
type ForgeEventsResponse struct {
	// example: true
	OK bool `json:"ok" example:"true"`
	// Number of events accepted after sanitation.
	// example: 12
	Received int `json:"received" example:"12"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: true
	OK bool `json:"ok" example:"true"`
	// Name declared by the loaded renderer artifact.
	// example: marketing-blocks
	Name string `json:"name,omitempty" example:"marketing-blocks"`
	// Version declared by the loaded renderer artifact.
	// example: 1.4.0
	Version string `json:"version,omitempty" example:"1.4.0"`
	// Error code when the renderer cannot be loaded.
	// example: renderer_missing
	Error string `json:"error,omitempty" example:"renderer_missing"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Always false.
	// example: false
	OK bool `json:"ok" example:"false"`
	// Error code.
	// example: invalid_json
	Error string `json:"error" example:"invalid_json"`
}
