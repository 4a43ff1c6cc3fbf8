package content

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haneul-labs/sori-server/domain/entities"
)

// MemoryStore is an in-memory ContentStore for development and testing.
// It keeps articles sorted newest-first, matching the MongoDB store's
// publish order semantics.
type MemoryStore struct {
	mu       sync.RWMutex
	articles map[string]*entities.Article
	order    []string
}

// NewMemoryStore creates an empty in-memory content store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles: make(map[string]*entities.Article),
	}
}

// NewSeededStore creates a store pre-loaded with sample articles so the
// server is usable without a content database.
func NewSeededStore() *MemoryStore {
	store := NewMemoryStore()
	base := time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)

	store.Add(&entities.Article{
		ID:       "sample-001",
		Title:    "오늘의 날씨",
		Source:   "sori-sample",
		Language: "ko-KR",
		Sentences: []string{
			"오늘 서울의 낮 최고 기온은 27도로 예상됩니다.",
			"오후부터는 구름이 많아지겠습니다.",
			"내일 아침에는 비가 내릴 가능성이 있습니다.",
		},
		PublishedAt: base,
	})
	store.Add(&entities.Article{
		ID:       "sample-002",
		Title:    "한국 경제 동향",
		Source:   "sori-sample",
		Language: "ko-KR",
		Sentences: []string{
			"지난 분기 수출이 전년 대비 5퍼센트 증가했습니다.",
			"반도체 부문이 성장을 이끌었습니다.",
		},
		PublishedAt: base.Add(time.Hour),
	})
	store.Add(&entities.Article{
		ID:       "sample-003",
		Title:    "우주 탐사 소식",
		Source:   "sori-sample",
		Language: "ko-KR",
		Sentences: []string{
			"새 달 탐사선이 다음 달 발사됩니다.",
			"이번 임무는 달의 남극을 조사합니다.",
			"탐사 결과는 내년에 공개될 예정입니다.",
		},
		PublishedAt: base.Add(2 * time.Hour),
	})
	return store
}

// Add inserts an article and re-sorts the publish order
func (s *MemoryStore) Add(article *entities.Article) error {
	if err := article.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.articles[article.ID]; !exists {
		s.order = append(s.order, article.ID)
	}
	s.articles[article.ID] = article

	sort.Slice(s.order, func(i, j int) bool {
		a, b := s.articles[s.order[i]], s.articles[s.order[j]]
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.ID > b.ID
	})
	return nil
}

// GetArticle implements repositories.ContentStore
func (s *MemoryStore) GetArticle(ctx context.Context, id string) (*entities.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	article, exists := s.articles[id]
	if !exists {
		return nil, entities.ErrArticleNotFound
	}
	return article, nil
}

// GetSentence implements repositories.ContentStore
func (s *MemoryStore) GetSentence(ctx context.Context, articleID string, index int) (string, error) {
	article, err := s.GetArticle(ctx, articleID)
	if err != nil {
		return "", err
	}
	return article.Sentence(index)
}

// NextArticle implements repositories.ContentStore
func (s *MemoryStore) NextArticle(ctx context.Context, currentID string) (*entities.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return nil, entities.ErrNoMoreArticles
	}
	if currentID == "" {
		return s.articles[s.order[0]], nil
	}

	index, err := s.indexOf(currentID)
	if err != nil {
		return nil, err
	}
	if index+1 >= len(s.order) {
		return nil, entities.ErrNoMoreArticles
	}
	return s.articles[s.order[index+1]], nil
}

// PreviousArticle implements repositories.ContentStore
func (s *MemoryStore) PreviousArticle(ctx context.Context, currentID string) (*entities.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if currentID == "" {
		return nil, entities.ErrNoMoreArticles
	}

	index, err := s.indexOf(currentID)
	if err != nil {
		return nil, err
	}
	if index == 0 {
		return nil, entities.ErrNoMoreArticles
	}
	return s.articles[s.order[index-1]], nil
}

// indexOf must be called with the lock held
func (s *MemoryStore) indexOf(id string) (int, error) {
	for i, candidate := range s.order {
		if candidate == id {
			return i, nil
		}
	}
	return 0, entities.ErrArticleNotFound
}
