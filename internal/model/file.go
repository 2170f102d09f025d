package model

type File struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	FileKey     string `json:"-"`
	Indexed     bool   `json:"is_indexed"`
	ChunkCount  int    `json:"chunk_count"`
	IndexError  string `json:"index_error,omitempty"`
	Ctime       int64  `json:"ctime"`
	Mtime       int64  `json:"mtime"`
}
