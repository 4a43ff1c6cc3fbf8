package entities

import (
	"errors"
	"time"
)

// Article is one prepared news article, pre-split into sentences by the
// content pipeline.
type Article struct {
	ID          string    `json:"id" bson:"_id"`
	Title       string    `json:"title" bson:"title"`
	Source      string    `json:"source" bson:"source"`
	Language    string    `json:"language" bson:"language"`
	Sentences   []string  `json:"sentences" bson:"sentences"`
	PublishedAt time.Time `json:"published_at" bson:"published_at"`
}

var (
	ErrArticleNotFound    = errors.New("article not found")
	ErrNoMoreArticles     = errors.New("no more articles")
	ErrSentenceOutOfRange = errors.New("sentence index out of range")
)

// Sentence returns the sentence at the zero-based index.
func (a *Article) Sentence(index int) (string, error) {
	if index < 0 || index >= len(a.Sentences) {
		return "", ErrSentenceOutOfRange
	}
	return a.Sentences[index], nil
}

// Validate checks the fields the voice pipeline depends on.
func (a *Article) Validate() error {
	if a.ID == "" {
		return errors.New("article id is required")
	}
	if len(a.Sentences) == 0 {
		return errors.New("article has no sentences")
	}
	return nil
}
