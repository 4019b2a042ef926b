package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Metadata field limits applied before a record is stored.
const (
	MaxTitleLen       = 500
	MaxURLLen         = 2000
	MaxModifiedGMTLen = 64
)

// Metadata is stored next to each vector and returned verbatim on query, so
// a citation can be rendered without looking up the post.
type Metadata struct {
	PostID      int64  `json:"post_id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	ModifiedGMT string `json:"modified_gmt"`
	ChunkIndex  int    `json:"chunk_index"`
}

func NewMetadata(postID int64, chunkIndex int, title, url, modifiedGMT string) Metadata {
	return Metadata{
		PostID:      postID,
		Title:       truncate(title, MaxTitleLen),
		URL:         truncate(url, MaxURLLen),
		ModifiedGMT: truncate(modifiedGMT, MaxModifiedGMTLen),
		ChunkIndex:  chunkIndex,
	}
}

type Record struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata Metadata
}

type Match struct {
	ID       string
	Text     string
	Metadata Metadata
	// Distance is smaller for closer matches.
	Distance float64
}

// Index is a vector collection whose records are grouped by post id.
type Index interface {
	// Replace deletes every record of postID, then stores records.
	Replace(ctx context.Context, postID int64, records []Record) error
	// Query returns at most topK matches ordered by ascending distance.
	Query(ctx context.Context, vec []float32, topK int) ([]Match, error)
	Count(ctx context.Context) (int, error)
}

// RecordID is the "{post_id}:{position}" key of a chunk record.
func RecordID(postID int64, position int) string {
	return fmt.Sprintf("%d:%d", postID, position)
}

// PointID maps a record id onto a stable UUID for stores that require one.
func PointID(recordID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("wprag:"+recordID))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
