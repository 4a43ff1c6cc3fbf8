package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/haneul-labs/sori-server/domain/entities"
	"github.com/haneul-labs/sori-server/domain/repositories"
)

// ContentStore reads prepared articles from the "articles" collection.
// Articles are ordered newest-first by published_at; Next walks toward
// older articles, Previous walks back toward newer ones.
type ContentStore struct {
	collection *mongo.Collection
}

// NewContentStore creates a MongoDB-backed content store
func NewContentStore(db *mongo.Database) repositories.ContentStore {
	return &ContentStore{
		collection: db.Collection("articles"),
	}
}

// GetArticle implements repositories.ContentStore
func (s *ContentStore) GetArticle(ctx context.Context, id string) (*entities.Article, error) {
	if id == "" {
		return nil, errors.New("article ID cannot be empty")
	}

	var article entities.Article
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&article)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, entities.ErrArticleNotFound
		}
		return nil, fmt.Errorf("failed to get article %s: %w", id, err)
	}
	return &article, nil
}

// GetSentence implements repositories.ContentStore
func (s *ContentStore) GetSentence(ctx context.Context, articleID string, index int) (string, error) {
	article, err := s.GetArticle(ctx, articleID)
	if err != nil {
		return "", err
	}
	return article.Sentence(index)
}

// NextArticle implements repositories.ContentStore
func (s *ContentStore) NextArticle(ctx context.Context, currentID string) (*entities.Article, error) {
	if currentID == "" {
		return s.findEdge(ctx, bson.M{}, -1)
	}

	current, err := s.GetArticle(ctx, currentID)
	if err != nil {
		return nil, err
	}

	filter := bson.M{"$or": []bson.M{
		{"published_at": bson.M{"$lt": current.PublishedAt}},
		{"published_at": current.PublishedAt, "_id": bson.M{"$lt": current.ID}},
	}}
	return s.findEdge(ctx, filter, -1)
}

// PreviousArticle implements repositories.ContentStore
func (s *ContentStore) PreviousArticle(ctx context.Context, currentID string) (*entities.Article, error) {
	if currentID == "" {
		return nil, entities.ErrNoMoreArticles
	}

	current, err := s.GetArticle(ctx, currentID)
	if err != nil {
		return nil, err
	}

	filter := bson.M{"$or": []bson.M{
		{"published_at": bson.M{"$gt": current.PublishedAt}},
		{"published_at": current.PublishedAt, "_id": bson.M{"$gt": current.ID}},
	}}
	return s.findEdge(ctx, filter, 1)
}

// findEdge returns the first article matching filter in publish order.
// direction -1 walks newest-first, 1 oldest-first.
func (s *ContentStore) findEdge(ctx context.Context, filter bson.M, direction int) (*entities.Article, error) {
	opts := options.FindOne().SetSort(bson.D{
		{Key: "published_at", Value: direction},
		{Key: "_id", Value: direction},
	})

	var article entities.Article
	err := s.collection.FindOne(ctx, filter, opts).Decode(&article)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, entities.ErrNoMoreArticles
		}
		return nil, fmt.Errorf("failed to find article: %w", err)
	}
	return &article, nil
}
