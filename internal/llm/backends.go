package llm

// Backend is one inference identity: a primary model plus an optional
// fallback tried once when the primary is exhausted. The batch scheduler
// assigns backends to records round-robin, so the roster size bounds
// useful worker parallelism.
type Backend struct {
	Provider string
	Model    string
	Fallback string
}

// DefaultBackends is the roster used for catalog compilation. Reasoning
// models emit a preamble before their JSON; parsing strips it.
var DefaultBackends = []Backend{
	{Provider: "qwen", Model: "qwen/qwen3-32b", Fallback: "meta-llama/llama-3.3-70b-instruct"},
	{Provider: "nousresearch", Model: "nousresearch/hermes-4-70b", Fallback: "meta-llama/llama-3.3-70b-instruct"},
	{Provider: "minimax", Model: "minimax/minimax-m2.1", Fallback: "qwen/qwen3-32b"},
}

// SelectBackend returns the backend with the given model name, or the
// first of the roster when the name is empty or unknown.
func SelectBackend(backends []Backend, model string) Backend {
	for _, b := range backends {
		if model != "" && b.Model == model {
			return b
		}
	}
	return backends[0]
}
