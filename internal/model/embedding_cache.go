package model

// EmbeddingCache is one persisted embedding, keyed by model, task type and
// the hash of the embedded text. It never leaves the server.
type EmbeddingCache struct {
	ModelName   string
	TaskType    string
	ContentHash string
	Embedding   []float32
	Ctime       int64 // unix seconds, used for aging out
}
