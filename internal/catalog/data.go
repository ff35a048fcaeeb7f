package catalog

// Providers lists every upstream the gateway can dispatch to. The BaseURL is
// the default endpoint; config can override per provider.
var Providers = []ProviderDefinition{
	{ID: "openai", Name: "OpenAI", BaseURL: "https://api.openai.com/v1", Color: "#10a37f", Credential: CredBearer},
	{ID: "anthropic", Name: "Anthropic", BaseURL: "https://api.anthropic.com/v1", Color: "#d97757", Credential: CredHeader},
	{ID: "google", Name: "Google AI Studio", BaseURL: "https://generativelanguage.googleapis.com/v1beta", Color: "#4285f4", Credential: CredHeader},
	{ID: "vertexai", Name: "Google Vertex AI", BaseURL: "https://{location}-aiplatform.googleapis.com/v1", Color: "#34a853", Credential: CredService},
	{ID: "bedrock", Name: "AWS Bedrock", BaseURL: "https://bedrock-runtime.{region}.amazonaws.com", Color: "#ff9900", Credential: CredSigV4},
	{ID: "azure", Name: "Azure OpenAI", BaseURL: "https://{resource}.openai.azure.com", Color: "#0078d4", Credential: CredAzure},
	{ID: "cerebras", Name: "Cerebras", BaseURL: "https://api.cerebras.ai/v1", Color: "#f05a28", Credential: CredBearer},
	{ID: "together", Name: "Together AI", BaseURL: "https://api.together.xyz/v1", Color: "#0f6fff", Credential: CredBearer},
	{ID: "deepseek", Name: "DeepSeek", BaseURL: "https://api.deepseek.com/v1", Color: "#4d6bfe", Credential: CredBearer},
	{ID: "xai", Name: "xAI", BaseURL: "https://api.x.ai/v1", Color: "#000000", Credential: CredBearer},
	{ID: "groq", Name: "Groq", BaseURL: "https://api.groq.com/openai/v1", Color: "#f55036", Credential: CredBearer},
	{ID: "zai", Name: "Z AI", BaseURL: "https://api.z.ai/api/paas/v4", Color: "#3859ff", Credential: CredBearer},
	{ID: "alibaba", Name: "Alibaba Cloud", BaseURL: "https://dashscope-intl.aliyuncs.com/compatible-mode/v1", Color: "#ff6a00", Credential: CredBearer},
	{ID: "inference", Name: "Inference.net", BaseURL: "https://api.inference.net/v1", Color: "#7c3aed", Credential: CredBearer},
	{ID: "perplexity", Name: "Perplexity", BaseURL: "https://api.perplexity.ai", Color: "#20808d", Credential: CredBearer},
	{ID: "novita", Name: "Novita AI", BaseURL: "https://api.novita.ai/v3/openai", Color: "#23c343", Credential: CredBearer},
	{ID: "nebius", Name: "Nebius AI Studio", BaseURL: "https://api.studio.nebius.ai/v1", Color: "#5d5fef", Credential: CredBearer},
	{ID: "moonshot", Name: "Moonshot AI", BaseURL: "https://api.moonshot.ai/v1", Color: "#16191e", Credential: CredBearer},
	{ID: "nanogpt", Name: "NanoGPT", BaseURL: "https://nano-gpt.com/api/v1", Color: "#8a8a8a", Credential: CredBearer},
	{ID: "routeway", Name: "Routeway", BaseURL: "https://api.routeway.ai/v1", Color: "#2dd4bf", Credential: CredBearer},
	{ID: "cloudrift", Name: "CloudRift", BaseURL: "https://inference.cloudrift.ai/v1", Color: "#38bdf8", Credential: CredBearer},
	{ID: "canopywave", Name: "CanopyWave", BaseURL: "https://api.canopywave.com/v1", Color: "#65a30d", Credential: CredBearer},
}

// capability shorthands used by the table below.
var (
	capsText      = Capabilities{Streaming: true, Tools: true, JSON: true}
	capsTextFull  = Capabilities{Streaming: true, Vision: true, Tools: true, JSON: true, JSONSchema: true}
	capsReasoning = Capabilities{Streaming: true, Vision: true, Tools: true, Reasoning: true, JSON: true, JSONSchema: true}
	capsSearch    = Capabilities{Streaming: true, Vision: true, Tools: true, Reasoning: true, JSON: true, JSONSchema: true, WebSearch: true}
	capsImage     = Capabilities{ImageGen: true}
)

// Models is the compiled catalog. Mappings are ordered preferred-first; the
// router reorders within the §4.3 rules but never invents a mapping.
var Models = []ModelDefinition{

	// ─── OpenAI ───────────────────────────────────────────────────────────────
	{
		ID: "gpt-4o", Family: "gpt-4o", Name: "GPT-4o",
		Aliases:            []string{"gpt-4o-2024-11-20"},
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "openai", ModelName: "gpt-4o", ContextSize: 128_000, MaxOutput: 16_384,
				InputPrice: 2.50, OutputPrice: 10.00, CachedInputPrice: 1.25, Caps: capsTextFull},
			{Provider: "azure", ModelName: "gpt-4o", ContextSize: 128_000, MaxOutput: 16_384,
				InputPrice: 2.50, OutputPrice: 10.00, CachedInputPrice: 1.25, Caps: capsTextFull},
		},
	},
	{
		ID: "gpt-4o-mini", Family: "gpt-4o", Name: "GPT-4o mini",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "openai", ModelName: "gpt-4o-mini", ContextSize: 128_000, MaxOutput: 16_384,
				InputPrice: 0.15, OutputPrice: 0.60, CachedInputPrice: 0.075, Caps: capsTextFull},
		},
	},
	{
		ID: "gpt-4o-search-preview", Family: "gpt-4o", Name: "GPT-4o Search",
		SupportsSystemRole: true, OutputText: true, Stability: Beta,
		Providers: []ProviderMapping{
			{Provider: "openai", ModelName: "gpt-4o-search-preview", ContextSize: 128_000, MaxOutput: 16_384,
				InputPrice: 2.50, OutputPrice: 10.00, WebSearchPrice: 30.0, Caps: capsSearch},
		},
	},
	{
		ID: "gpt-4.1", Family: "gpt-4.1", Name: "GPT-4.1",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "openai", ModelName: "gpt-4.1", ContextSize: 1_047_576, MaxOutput: 32_768,
				InputPrice: 2.00, OutputPrice: 8.00, CachedInputPrice: 0.50, Caps: capsTextFull},
		},
	},
	{
		ID: "gpt-5", Family: "gpt-5", Name: "GPT-5",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "openai", ModelName: "gpt-5", ContextSize: 400_000, MaxOutput: 128_000,
				InputPrice: 1.25, OutputPrice: 10.00, CachedInputPrice: 0.125,
				Caps: capsSearch, SupportsResponsesAPI: true},
		},
	},
	{
		ID: "gpt-5-mini", Family: "gpt-5", Name: "GPT-5 mini",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "openai", ModelName: "gpt-5-mini", ContextSize: 400_000, MaxOutput: 128_000,
				InputPrice: 0.25, OutputPrice: 2.00, CachedInputPrice: 0.025,
				Caps: capsReasoning, SupportsResponsesAPI: true},
		},
	},
	{
		ID: "gpt-5-pro", Family: "gpt-5", Name: "GPT-5 Pro",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "openai", ModelName: "gpt-5-pro", ContextSize: 400_000, MaxOutput: 272_000,
				InputPrice: 15.00, OutputPrice: 120.00,
				Caps: capsReasoning, SupportsResponsesAPI: true},
		},
	},
	{
		ID: "o3", Family: "o", Name: "o3",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "openai", ModelName: "o3", ContextSize: 200_000, MaxOutput: 100_000,
				InputPrice: 2.00, OutputPrice: 8.00, CachedInputPrice: 0.50, Caps: capsReasoning},
		},
	},

	// ─── Anthropic ────────────────────────────────────────────────────────────
	{
		ID: "claude-sonnet-4-5", Family: "claude", Name: "Claude Sonnet 4.5",
		Aliases:            []string{"claude-sonnet-4-5-20250929"},
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "anthropic", ModelName: "claude-sonnet-4-5", ContextSize: 200_000, MaxOutput: 64_000,
				InputPrice: 3.00, OutputPrice: 15.00, CachedInputPrice: 0.30, WebSearchPrice: 10.0,
				Caps: capsSearch},
			{Provider: "bedrock", ModelName: "anthropic.claude-sonnet-4-5-20250929-v1:0", ContextSize: 200_000, MaxOutput: 64_000,
				InputPrice: 3.00, OutputPrice: 15.00, CachedInputPrice: 0.30, Caps: capsReasoning},
		},
	},
	{
		ID: "claude-opus-4-6", Family: "claude", Name: "Claude Opus 4.6",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "anthropic", ModelName: "claude-opus-4-6", ContextSize: 200_000, MaxOutput: 128_000,
				InputPrice: 5.00, OutputPrice: 25.00, CachedInputPrice: 0.50, WebSearchPrice: 10.0,
				Caps: capsSearch},
			{Provider: "bedrock", ModelName: "anthropic.claude-opus-4-6-v1:0", ContextSize: 200_000, MaxOutput: 128_000,
				InputPrice: 5.00, OutputPrice: 25.00, CachedInputPrice: 0.50, Caps: capsReasoning},
		},
	},
	{
		ID: "claude-haiku-4-5", Family: "claude", Name: "Claude Haiku 4.5",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "anthropic", ModelName: "claude-haiku-4-5", ContextSize: 200_000, MaxOutput: 64_000,
				InputPrice: 1.00, OutputPrice: 5.00, CachedInputPrice: 0.10, Caps: capsReasoning},
		},
	},

	// ─── Google ───────────────────────────────────────────────────────────────
	{
		ID: "gemini-2.5-pro", Family: "gemini", Name: "Gemini 2.5 Pro",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "google", ModelName: "gemini-2.5-pro", ContextSize: 1_048_576, MaxOutput: 65_536,
				InputPrice: 1.25, OutputPrice: 10.00, CachedInputPrice: 0.31, WebSearchPrice: 35.0,
				Caps: capsSearch,
				PricingTiers: []PricingTier{
					{UpToTokens: 200_000, InputPrice: 1.25, OutputPrice: 10.00},
					{UpToTokens: 0, InputPrice: 2.50, OutputPrice: 15.00},
				}},
			{Provider: "vertexai", ModelName: "gemini-2.5-pro", ContextSize: 1_048_576, MaxOutput: 65_536,
				InputPrice: 1.25, OutputPrice: 10.00, CachedInputPrice: 0.31, Caps: capsReasoning},
		},
	},
	{
		ID: "gemini-2.5-flash", Family: "gemini", Name: "Gemini 2.5 Flash",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "google", ModelName: "gemini-2.5-flash", ContextSize: 1_048_576, MaxOutput: 65_536,
				InputPrice: 0.30, OutputPrice: 2.50, CachedInputPrice: 0.075, WebSearchPrice: 35.0,
				Caps: capsSearch},
			{Provider: "vertexai", ModelName: "gemini-2.5-flash", ContextSize: 1_048_576, MaxOutput: 65_536,
				InputPrice: 0.30, OutputPrice: 2.50, CachedInputPrice: 0.075, Caps: capsReasoning},
		},
	},
	{
		ID: "gemini-2.5-flash-image", Family: "gemini", Name: "Gemini 2.5 Flash Image",
		SupportsSystemRole: true, OutputText: true, OutputImage: true,
		Providers: []ProviderMapping{
			{Provider: "google", ModelName: "gemini-2.5-flash-image", ContextSize: 32_768, MaxOutput: 8_192,
				InputPrice: 0.30, OutputPrice: 2.50, ImageOutputPrice: 0.039,
				Caps: Capabilities{Streaming: true, Vision: true, ImageGen: true}},
		},
	},

	// ─── Llama family (multi-provider root model) ─────────────────────────────
	{
		ID: "llama-3.3-70b", Family: "llama", Name: "Llama 3.3 70B Instruct",
		Aliases:            []string{"llama-3.3-70b-instruct"},
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "groq", ModelName: "llama-3.3-70b-versatile", ContextSize: 131_072, MaxOutput: 32_768,
				InputPrice: 0.59, OutputPrice: 0.79, Caps: capsText},
			{Provider: "cerebras", ModelName: "llama3.3-70b", ContextSize: 131_072, MaxOutput: 8_192,
				InputPrice: 0.85, OutputPrice: 1.20, Caps: capsText},
			{Provider: "together", ModelName: "meta-llama/Llama-3.3-70B-Instruct-Turbo", ContextSize: 131_072, MaxOutput: 8_192,
				InputPrice: 0.88, OutputPrice: 0.88, Caps: capsText},
			{Provider: "novita", ModelName: "meta-llama/llama-3.3-70b-instruct", ContextSize: 131_072, MaxOutput: 8_192,
				InputPrice: 0.39, OutputPrice: 0.39, Caps: capsText, Stability: Beta},
			{Provider: "nebius", ModelName: "meta-llama/Meta-Llama-3.3-70B-Instruct", ContextSize: 131_072, MaxOutput: 8_192,
				InputPrice: 0.25, OutputPrice: 0.75, Caps: capsText, Stability: Beta},
		},
	},

	// ─── DeepSeek ─────────────────────────────────────────────────────────────
	{
		ID: "deepseek-v3", Family: "deepseek", Name: "DeepSeek V3",
		Aliases:            []string{"deepseek-chat"},
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "deepseek", ModelName: "deepseek-chat", ContextSize: 131_072, MaxOutput: 8_192,
				InputPrice: 0.27, OutputPrice: 1.10, CachedInputPrice: 0.07, Caps: capsText},
			{Provider: "together", ModelName: "deepseek-ai/DeepSeek-V3", ContextSize: 131_072, MaxOutput: 8_192,
				InputPrice: 1.25, OutputPrice: 1.25, Caps: capsText},
			{Provider: "novita", ModelName: "deepseek/deepseek-v3", ContextSize: 131_072, MaxOutput: 8_192,
				InputPrice: 0.40, OutputPrice: 1.30, Caps: capsText, Stability: Beta},
		},
	},
	{
		ID: "deepseek-r1", Family: "deepseek", Name: "DeepSeek R1",
		Aliases:            []string{"deepseek-reasoner"},
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "deepseek", ModelName: "deepseek-reasoner", ContextSize: 131_072, MaxOutput: 65_536,
				InputPrice: 0.55, OutputPrice: 2.19, CachedInputPrice: 0.14,
				Caps: Capabilities{Streaming: true, Reasoning: true, JSON: true}},
			{Provider: "nebius", ModelName: "deepseek-ai/DeepSeek-R1", ContextSize: 131_072, MaxOutput: 32_768,
				InputPrice: 0.80, OutputPrice: 2.40,
				Caps: Capabilities{Streaming: true, Reasoning: true}, Stability: Beta},
		},
	},

	// ─── xAI ──────────────────────────────────────────────────────────────────
	{
		ID: "grok-4", Family: "grok", Name: "Grok 4",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "xai", ModelName: "grok-4", ContextSize: 256_000, MaxOutput: 64_000,
				InputPrice: 3.00, OutputPrice: 15.00, CachedInputPrice: 0.75, Caps: capsReasoning},
		},
	},

	// ─── Z AI ─────────────────────────────────────────────────────────────────
	{
		ID: "glm-4.6", Family: "glm", Name: "GLM-4.6",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "zai", ModelName: "glm-4.6", ContextSize: 200_000, MaxOutput: 128_000,
				InputPrice: 0.60, OutputPrice: 2.20, CachedInputPrice: 0.11,
				Caps: Capabilities{Streaming: true, Tools: true, Reasoning: true, JSON: true, WebSearch: true}},
		},
	},
	{
		ID: "cogview-4", Family: "glm", Name: "CogView 4",
		SupportsSystemRole: false, OutputImage: true,
		Providers: []ProviderMapping{
			{Provider: "zai", ModelName: "cogview-4", ContextSize: 4_096, MaxOutput: 0,
				ImageOutputPrice: 0.014, Caps: capsImage},
		},
	},

	// ─── Alibaba ──────────────────────────────────────────────────────────────
	{
		ID: "qwen-max", Family: "qwen", Name: "Qwen Max",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "alibaba", ModelName: "qwen-max", ContextSize: 131_072, MaxOutput: 8_192,
				InputPrice: 1.60, OutputPrice: 6.40, CachedInputPrice: 0.64, Caps: capsText},
		},
	},
	{
		ID: "wan2.2-t2i-plus", Family: "wan", Name: "Wan 2.2 Text-to-Image Plus",
		SupportsSystemRole: false, OutputImage: true,
		Providers: []ProviderMapping{
			{Provider: "alibaba", ModelName: "wan2.2-t2i-plus", ContextSize: 2_048, MaxOutput: 0,
				ImageOutputPrice: 0.05, Caps: capsImage},
		},
	},

	// ─── Moonshot ─────────────────────────────────────────────────────────────
	{
		ID: "kimi-k2", Family: "kimi", Name: "Kimi K2",
		Aliases:            []string{"kimi-k2-0905-preview"},
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "moonshot", ModelName: "kimi-k2-0905-preview", ContextSize: 262_144, MaxOutput: 16_384,
				InputPrice: 0.60, OutputPrice: 2.50, CachedInputPrice: 0.15, Caps: capsText},
			{Provider: "groq", ModelName: "moonshotai/kimi-k2-instruct", ContextSize: 131_072, MaxOutput: 16_384,
				InputPrice: 1.00, OutputPrice: 3.00, Caps: capsText, Stability: Beta},
		},
	},

	// ─── Perplexity ───────────────────────────────────────────────────────────
	{
		ID: "sonar-pro", Family: "sonar", Name: "Sonar Pro",
		SupportsSystemRole: true, OutputText: true,
		Providers: []ProviderMapping{
			{Provider: "perplexity", ModelName: "sonar-pro", ContextSize: 200_000, MaxOutput: 8_192,
				InputPrice: 3.00, OutputPrice: 15.00, RequestPrice: 0.005,
				Caps: Capabilities{Streaming: true, JSON: true, WebSearch: true}},
		},
	},

	// ─── Cerebras-exclusive ───────────────────────────────────────────────────
	{
		ID: "qwen-3-235b", Family: "qwen", Name: "Qwen 3 235B",
		SupportsSystemRole: true, OutputText: true, Stability: Beta,
		Providers: []ProviderMapping{
			{Provider: "cerebras", ModelName: "qwen-3-235b-a22b-instruct-2507", ContextSize: 131_072, MaxOutput: 32_768,
				InputPrice: 0.60, OutputPrice: 1.20, Caps: capsText},
		},
	},

	// ─── Inference.net ────────────────────────────────────────────────────────
	{
		ID: "llama-3.1-8b", Family: "llama", Name: "Llama 3.1 8B Instruct",
		SupportsSystemRole: true, OutputText: true, Free: true,
		Providers: []ProviderMapping{
			{Provider: "inference", ModelName: "meta-llama/llama-3.1-8b-instruct/fp-16", ContextSize: 131_072, MaxOutput: 8_192,
				InputPrice: 0.03, OutputPrice: 0.05, Caps: capsText},
			{Provider: "novita", ModelName: "meta-llama/llama-3.1-8b-instruct", ContextSize: 131_072, MaxOutput: 8_192,
				InputPrice: 0.05, OutputPrice: 0.05, Caps: capsText, Stability: Beta},
		},
	},
}
