package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClass is the Weaviate class holding post chunks.
const DefaultClass = "PostChunk"

// SchemaClient defines the Weaviate schema operations EnsureSchema needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

func chunkProperties() []*models.Property {
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		{Name: "recordId", DataType: []string{"string"}},
		{Name: "postId", DataType: []string{"int"}},
		{Name: "chunkIndex", DataType: []string{"int"}},
		{Name: "title", DataType: []string{"text"}},
		{Name: "url", DataType: []string{"string"}},
		{Name: "modifiedGmt", DataType: []string{"string"}},
	}
}

// EnsureSchema creates the chunk class, or adds properties missing from an
// existing one. Vectors are supplied by the caller; cosine distance.
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	if className == "" {
		className = DefaultClass
	}
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := chunkProperties()
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:             className,
			Description:       "A chunk of a WordPress post",
			Vectorizer:        "none",
			VectorIndexConfig: map[string]interface{}{"distance": "cosine"},
			Properties:        properties,
		})
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		existing[p.Name] = true
	}
	for _, p := range properties {
		if existing[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, className, p); err != nil {
			return err
		}
	}
	return nil
}
