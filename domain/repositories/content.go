package repositories

import (
	"context"

	"github.com/haneul-labs/sori-server/domain/entities"
)

// ContentStore defines read access to the prepared news articles the
// assistant reads aloud. The content pipeline that fills the store is a
// separate system.
type ContentStore interface {
	GetArticle(ctx context.Context, id string) (*entities.Article, error)
	// GetSentence returns one sentence of an article by zero-based index.
	GetSentence(ctx context.Context, articleID string, index int) (string, error)
	// NextArticle returns the article following currentID in publish order.
	// An empty currentID returns the newest article.
	NextArticle(ctx context.Context, currentID string) (*entities.Article, error)
	// PreviousArticle returns the article preceding currentID in publish order.
	PreviousArticle(ctx context.Context, currentID string) (*entities.Article, error)
}
