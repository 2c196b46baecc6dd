package resolver

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"coursepilot/core"
)

// RedisSearcher reads answers from a shared cache keyed by question text.
// Useful when several workers hammer the same bank: the first hit from a
// slower backend is written back here by the engine owner.
type RedisSearcher struct {
	client *redis.Client
	prefix string
}

func NewRedisSearcher(addr, password string, db int, prefix string) *RedisSearcher {
	if prefix == "" {
		prefix = "qa:"
	}
	return &RedisSearcher{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		prefix: prefix,
	}
}

func (s *RedisSearcher) Name() string { return "RedisSearcher" }

func (s *RedisSearcher) Close() error { return s.client.Close() }

func (s *RedisSearcher) Invoke(ctx context.Context, question *core.QuestionModel) SearcherResp {
	answer, err := s.client.Get(ctx, s.prefix+filterSuffix(question.Value)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return SearcherResp{Code: SearchNotFound, Message: "question not matched", Searcher: s.Name(), Question: question.Value}
	case err != nil:
		return SearcherResp{Code: SearchFailed, Message: err.Error(), Searcher: s.Name(), Question: question.Value}
	default:
		return SearcherResp{Code: SearchOK, Message: "ok", Searcher: s.Name(), Question: question.Value, Answer: answer}
	}
}

// Store writes a resolved answer back to the cache.
func (s *RedisSearcher) Store(ctx context.Context, question, answer string) error {
	return s.client.Set(ctx, s.prefix+filterSuffix(question), answer, 0).Err()
}
