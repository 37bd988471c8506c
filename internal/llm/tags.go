package llm

// bannedTags are domain-meaningless words rejected during normalization.
var bannedTags = map[string]bool{
	"mcp":       true,
	"server":    true,
	"tool":      true,
	"api":       true,
	"client":    true,
	"wrapper":   true,
	"helper":    true,
	"utility":   true,
	"utilities": true,
}

// validTags is the suggested vocabulary embedded in prompts. Models may
// still produce tags outside it; those survive normalization as long as
// they are not banned.
var validTags = []string{
	"filesystem", "database", "git", "github", "gitlab", "slack", "discord",
	"web3", "ai", "search", "rag", "embeddings", "llm", "machine-learning",
	"postgresql", "mysql", "mongodb", "redis", "elasticsearch", "sqlite",
	"email", "calendar", "crm", "analytics", "monitoring", "logging",
	"authentication", "security", "encryption", "payment", "billing",
	"storage", "backup", "deployment", "docker", "kubernetes", "testing",
	"automation", "scheduling", "workflow", "orchestration", "chat",
	"messaging", "notification", "sms", "voice", "video", "document", "pdf",
	"excel", "csv", "json", "markdown", "image", "video-processing", "audio",
	"media", "ocr", "nlp", "translation", "sentiment", "speech-recognition",
	"blockchain", "crypto", "defi", "nft", "smart-contracts", "e-commerce",
	"inventory", "orders", "shipping", "healthcare", "finance", "legal",
	"education", "travel", "food", "recipes", "cocktails", "entertainment",
	"gaming", "weather", "maps", "geolocation", "transportation",
	"social-media", "content", "marketing", "seo", "knowledge-base", "wiki",
	"documentation", "browser", "web-scraping", "desktop", "google",
	"microsoft", "aws", "azure", "gcp", "twitter", "linkedin", "instagram",
	"youtube", "reddit", "jira", "linear", "notion", "confluence", "asana",
	"figma", "design", "shell", "terminal", "memory", "vector-store",
	"qdrant", "pinecone", "weaviate", "webhook", "http", "rest", "graphql",
	"puppeteer", "playwright",
}
