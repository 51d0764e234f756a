package ai

// ModelInfo describes a model offered to clients
type ModelInfo struct {
	ID            string  `json:"id"`
	DisplayName   string  `json:"displayName"`
	Provider      string  `json:"provider"`
	SupportsImage bool    `json:"supportsImage"`
	InputPrice    float64 `json:"inputPrice"`
	OutputPrice   float64 `json:"outputPrice"`
}

// Catalog is the set of models the frontend may pick from. Prices are USD per million tokens.
var Catalog = []ModelInfo{
	{ID: "openai/gpt-4.1-nano", DisplayName: "GPT-4.1 Nano", Provider: "OpenAI", SupportsImage: true, InputPrice: 0.10, OutputPrice: 0.40},
	{ID: "google/gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", Provider: "Google", SupportsImage: true, InputPrice: 0.30, OutputPrice: 2.50},
	{ID: "deepseek/deepseek-r1-distill-qwen-7b", DisplayName: "DeepSeek R1 Distill Qwen 7B", Provider: "DeepSeek", SupportsImage: false, InputPrice: 0.10, OutputPrice: 0.20},
	{ID: "qwen/qwen3-30b-a3b:free", DisplayName: "Qwen 3 30B", Provider: "Qwen", SupportsImage: false},
}

// legacyAliases are model names older clients still send; they map to the capability default
var legacyAliases = map[string]bool{
	"qwen2.5b-local": true,
}

// LookupModel finds a catalog entry by id
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range Catalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// VisionModels returns the catalog entries that accept images
func VisionModels() []ModelInfo {
	var out []ModelInfo
	for _, m := range Catalog {
		if m.SupportsImage {
			out = append(out, m)
		}
	}
	return out
}
