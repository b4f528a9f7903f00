package catalog

const (
	// DefaultModelKey is selected when the user holds no key at all
	DefaultModelKey = "openai:gpt-4.1-mini"
	// ImageGenerationModelKey is only reachable with a native OpenAI key
	ImageGenerationModelKey = "openai:gpt-image-1"
)

var models = []ModelConfig{
	// OpenAI
	{
		ID: "gpt-4.1", Name: "GPT-4.1", Provider: OpenAI,
		Description:  "Flagship GPT model for complex tasks",
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, Search: true, PDF: true, Coding: true, Multimodal: true},
		Performance:  Performance{Speed: SpeedMedium, Quality: QualityHigh},
		Tier:         TierPremium, Pricing: &Pricing{Input: 0.002, Output: 0.008},
		ContextWindow: 1047576, MaxOutputTokens: 32768,
	},
	{
		ID: "gpt-4.1-mini", Name: "GPT-4.1 Mini", Provider: OpenAI,
		Description:  "Balanced for intelligence, speed, and cost",
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, Search: true, PDF: true, Coding: true, Multimodal: true},
		Performance:  Performance{Speed: SpeedFast, Quality: QualityHigh},
		Tier:         TierStandard, Pricing: &Pricing{Input: 0.0004, Output: 0.0016},
		ContextWindow: 1047576, MaxOutputTokens: 32768,
	},
	{
		ID: "gpt-4.1-nano", Name: "GPT-4.1 Nano", Provider: OpenAI,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, PDF: true, Coding: true, Multimodal: true},
		Performance:  Performance{Speed: SpeedFast, Quality: QualityMedium},
		Tier:         TierBudget, Pricing: &Pricing{Input: 0.0001, Output: 0.0004},
		ContextWindow: 1047576, MaxOutputTokens: 32768,
	},
	{
		ID: "gpt-4o", Name: "GPT-4o", Provider: OpenAI,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, Search: true, PDF: true, Coding: true, Multimodal: true},
		Performance:  Performance{Speed: SpeedMedium, Quality: QualityHigh},
		Tier:         TierPremium, Pricing: &Pricing{Input: 0.0025, Output: 0.01},
		ContextWindow: 128000, MaxOutputTokens: 16384,
	},
	{
		ID: "gpt-4o-mini", Name: "GPT-4o Mini", Provider: OpenAI,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, Search: true, PDF: true, Coding: true, Multimodal: true},
		Performance:  Performance{Speed: SpeedFast, Quality: QualityMedium},
		Tier:         TierBudget, Pricing: &Pricing{Input: 0.00015, Output: 0.0006},
		ContextWindow: 128000, MaxOutputTokens: 16384,
	},
	{
		ID: "o3", Name: "o3", Provider: OpenAI,
		Description:  "Reasoning model for math, science and coding",
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, PDF: true, Reasoning: true, Coding: true, Multimodal: true, Effort: true},
		Performance:  Performance{Speed: SpeedSlow, Quality: QualityHigh},
		Tier:         TierPremium, Pricing: &Pricing{Input: 0.002, Output: 0.008},
		ContextWindow: 200000, MaxOutputTokens: 100000,
	},
	{
		ID: "o3-mini", Name: "o3 Mini", Provider: OpenAI,
		Capabilities: Capabilities{Streaming: true, Tools: true, Reasoning: true, Coding: true, Effort: true},
		Performance:  Performance{Speed: SpeedMedium, Quality: QualityHigh},
		Tier:         TierStandard, Pricing: &Pricing{Input: 0.0011, Output: 0.0044},
		ContextWindow: 200000, MaxOutputTokens: 100000,
	},
	{
		ID: "o4-mini", Name: "o4 Mini", Provider: OpenAI,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, PDF: true, Reasoning: true, Coding: true, Multimodal: true, Effort: true},
		Performance:  Performance{Speed: SpeedMedium, Quality: QualityHigh},
		Tier:         TierStandard, Pricing: &Pricing{Input: 0.0011, Output: 0.0044},
		ContextWindow: 200000, MaxOutputTokens: 100000,
	},
	{
		ID: "gpt-image-1", Name: "GPT Image 1", Provider: OpenAI,
		Description:   "Image generation, driven through a chat model tool call",
		DriverModelID: "gpt-4.1-mini",
		Capabilities:  Capabilities{Streaming: true, Vision: true, Tools: true, Multimodal: true},
		Performance:   Performance{Speed: SpeedSlow, Quality: QualityHigh},
		Tier:          TierPremium, Pricing: &Pricing{Input: 0.005, Output: 0.04},
		ContextWindow: 32000, MaxOutputTokens: 4096,
	},

	// Anthropic
	{
		ID: "claude-opus-4-0", Name: "Claude Opus 4", Provider: Anthropic,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, PDF: true, Reasoning: true, Coding: true, Multimodal: true, Effort: true},
		Performance:  Performance{Speed: SpeedSlow, Quality: QualityHigh},
		Tier:         TierPremium, Pricing: &Pricing{Input: 0.015, Output: 0.075},
		ContextWindow: 200000, MaxOutputTokens: 32000,
	},
	{
		ID: "claude-sonnet-4-0", Name: "Claude Sonnet 4", Provider: Anthropic,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, PDF: true, Reasoning: true, Coding: true, Multimodal: true, Effort: true},
		Performance:  Performance{Speed: SpeedMedium, Quality: QualityHigh},
		Tier:         TierPremium, Pricing: &Pricing{Input: 0.003, Output: 0.015},
		ContextWindow: 200000, MaxOutputTokens: 64000,
	},
	{
		ID: "claude-3-7-sonnet-latest", Name: "Claude Sonnet 3.7", Provider: Anthropic,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, PDF: true, Reasoning: true, Coding: true, Multimodal: true, Effort: true},
		Performance:  Performance{Speed: SpeedMedium, Quality: QualityHigh},
		Tier:         TierStandard, Pricing: &Pricing{Input: 0.003, Output: 0.015},
		ContextWindow: 200000, MaxOutputTokens: 64000,
	},
	{
		ID: "claude-3-5-haiku-latest", Name: "Claude Haiku 3.5", Provider: Anthropic,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, PDF: true, Coding: true, Multimodal: true},
		Performance:  Performance{Speed: SpeedFast, Quality: QualityMedium},
		Tier:         TierBudget, Pricing: &Pricing{Input: 0.0008, Output: 0.004},
		ContextWindow: 200000, MaxOutputTokens: 8192,
	},

	// Google
	{
		ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Provider: Google,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, Search: true, PDF: true, Reasoning: true, Coding: true, Multimodal: true, Effort: true},
		Performance:  Performance{Speed: SpeedMedium, Quality: QualityHigh},
		Tier:         TierPremium, Pricing: &Pricing{Input: 0.00125, Output: 0.01},
		ContextWindow: 1048576, MaxOutputTokens: 65536,
	},
	{
		ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Provider: Google,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, Search: true, PDF: true, Reasoning: true, Coding: true, Multimodal: true, Effort: true},
		Performance:  Performance{Speed: SpeedFast, Quality: QualityHigh},
		Tier:         TierStandard, Pricing: &Pricing{Input: 0.0003, Output: 0.0025},
		ContextWindow: 1048576, MaxOutputTokens: 65536,
	},
	{
		ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Provider: Google,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, Search: true, PDF: true, Coding: true, Multimodal: true},
		Performance:  Performance{Speed: SpeedFast, Quality: QualityMedium},
		Tier:         TierBudget, Pricing: &Pricing{Input: 0.0001, Output: 0.0004},
		ContextWindow: 1048576, MaxOutputTokens: 8192,
	},
	{
		ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", Provider: Google,
		Capabilities: Capabilities{Streaming: true, Vision: true, PDF: true, Multimodal: true},
		Performance:  Performance{Speed: SpeedFast, Quality: QualityLow},
		Tier:         TierBudget, Pricing: &Pricing{Input: 0.000075, Output: 0.0003},
		ContextWindow: 1048576, MaxOutputTokens: 8192,
	},

	// Meta, through the aggregator
	{
		ID: "meta-llama/llama-4-maverick", Name: "Llama 4 Maverick", Provider: Meta, APIProvider: OpenRouter,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, Coding: true, Multimodal: true},
		Performance:  Performance{Speed: SpeedFast, Quality: QualityMedium},
		Tier:         TierStandard, Pricing: &Pricing{Input: 0.00015, Output: 0.0006},
		ContextWindow: 1048576, MaxOutputTokens: 16384,
	},
	{
		ID: "meta-llama/llama-4-scout", Name: "Llama 4 Scout", Provider: Meta, APIProvider: OpenRouter,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, Multimodal: true},
		Performance:  Performance{Speed: SpeedFast, Quality: QualityMedium},
		Tier:         TierBudget, Pricing: &Pricing{Input: 0.00008, Output: 0.0003},
		ContextWindow: 327680, MaxOutputTokens: 16384,
	},
	{
		ID: "meta-llama/llama-3.3-70b-instruct", Name: "Llama 3.3 70B", Provider: Meta, APIProvider: OpenRouter,
		Capabilities: Capabilities{Streaming: true, Tools: true, Coding: true},
		Performance:  Performance{Speed: SpeedFast, Quality: QualityMedium},
		Tier:         TierBudget, Pricing: &Pricing{Input: 0.00012, Output: 0.0003},
		ContextWindow: 131072, MaxOutputTokens: 8192,
	},

	// DeepSeek, through the aggregator
	{
		ID: "deepseek/deepseek-r1", Name: "DeepSeek R1", Provider: DeepSeek, APIProvider: OpenRouter,
		Capabilities: Capabilities{Streaming: true, Reasoning: true, Coding: true},
		Performance:  Performance{Speed: SpeedSlow, Quality: QualityHigh},
		Tier:         TierStandard, Pricing: &Pricing{Input: 0.00045, Output: 0.00215},
		ContextWindow: 128000, MaxOutputTokens: 32768,
	},
	{
		ID: "deepseek/deepseek-chat-v3-0324", Name: "DeepSeek V3", Provider: DeepSeek, APIProvider: OpenRouter,
		Capabilities: Capabilities{Streaming: true, Tools: true, Coding: true},
		Performance:  Performance{Speed: SpeedMedium, Quality: QualityHigh},
		Tier:         TierBudget, Pricing: &Pricing{Input: 0.00028, Output: 0.00088},
		ContextWindow: 163840, MaxOutputTokens: 16384,
	},

	// Aggregator-native listings
	{
		ID: "x-ai/grok-3-mini", Name: "Grok 3 Mini", Provider: OpenRouter,
		Capabilities: Capabilities{Streaming: true, Tools: true, Reasoning: true, Coding: true},
		Performance:  Performance{Speed: SpeedFast, Quality: QualityMedium},
		Tier:         TierBudget, Pricing: &Pricing{Input: 0.0003, Output: 0.0005},
		ContextWindow: 131072, MaxOutputTokens: 16384,
	},
	{
		ID: "mistralai/mistral-medium-3", Name: "Mistral Medium 3", Provider: OpenRouter,
		Capabilities: Capabilities{Streaming: true, Vision: true, Tools: true, Coding: true, Multimodal: true},
		Performance:  Performance{Speed: SpeedFast, Quality: QualityMedium},
		Tier:         TierStandard, Pricing: &Pricing{Input: 0.0004, Output: 0.002},
		ContextWindow: 131072, MaxOutputTokens: 16384,
	},
	{
		ID: "qwen/qwen3-235b-a22b", Name: "Qwen3 235B", Provider: OpenRouter,
		Capabilities: Capabilities{Streaming: true, Tools: true, Reasoning: true, Coding: true},
		Performance:  Performance{Speed: SpeedMedium, Quality: QualityHigh},
		Tier:         TierStandard, Pricing: &Pricing{Input: 0.00013, Output: 0.0006},
		ContextWindow: 40960, MaxOutputTokens: 16384,
	},
}
