package model

import "fmt"

// Chunk is one retrievable unit of a file. EmbedText is what gets embedded,
// Text is what is handed back as context.
type Chunk struct {
	ID            string    `json:"id"`
	FileID        string    `json:"file_id"`
	UserID        string    `json:"user_id"`
	FileName      string    `json:"file_name"`
	SequenceIndex int       `json:"sequence_index"`
	PageNumber    int       `json:"page_number"`
	Text          string    `json:"text"`
	EmbedText     string    `json:"embed_text"`
	Embedding     []float32 `json:"-"`
}

func ChunkID(fileID string, seq int) string {
	return fmt.Sprintf("%s_%d", fileID, seq)
}

type RetrievedChunk struct {
	Chunk
	Distance float64 `json:"distance"`
}
