package config

// Defaults for the core options.
const (
	DefaultDocumentsDirectory = "./Documents"
	DefaultIndexDirectory     = "./faiss_index"
	DefaultIndexName          = "docs_index"
	DefaultEmbeddingModel     = "all-MiniLM-L6-v2"
	DefaultChunkSize          = 1000
	DefaultChunkOverlap       = 150
	DefaultK                  = 10
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.DocumentsDirectory == "" {
		cfg.DocumentsDirectory = DefaultDocumentsDirectory
	}
	if cfg.IndexDirectory == "" {
		cfg.IndexDirectory = DefaultIndexDirectory
	}
	if cfg.IndexName == "" {
		cfg.IndexName = DefaultIndexName
	}
	if cfg.EmbeddingModelName == "" {
		cfg.EmbeddingModelName = DefaultEmbeddingModel
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
		// Small custom chunk sizes would otherwise be rejected by Validate.
		if cfg.ChunkOverlap >= cfg.ChunkSize {
			cfg.ChunkOverlap = cfg.ChunkSize / 5
		}
	}
	if cfg.DefaultK == 0 {
		cfg.DefaultK = DefaultK
	}
	if cfg.IndexBackend == "" {
		cfg.IndexBackend = BackendFlat
	}
	if cfg.IndexMetric == "" {
		cfg.IndexMetric = MetricCosine
	}
	if cfg.ONNX.ModelPath == "" {
		cfg.ONNX.ModelPath = "./models/" + cfg.EmbeddingModelName + ".onnx"
	}
	if cfg.ONNX.MaxTokens == 0 {
		cfg.ONNX.MaxTokens = 256
	}
	if cfg.ONNX.CacheSize == 0 {
		cfg.ONNX.CacheSize = 10000
	}
	if cfg.OpenAI.APIKeyEnv == "" {
		cfg.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.OpenAI.BatchSize == 0 {
		cfg.OpenAI.BatchSize = 500
	}
}
