package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
)

// RedisStore keeps documents and threads as JSON values in Redis.
type RedisStore struct {
	client   redis.UniversalClient
	prefix   string
	defaults DefaultFunc
}

// NewRedisStore wraps client. Keys are "<prefix>project:<id>:config" and
// "<prefix>project:<id>:comments".
func NewRedisStore(client redis.UniversalClient, prefix string, defaults DefaultFunc) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, defaults: defaults}
}

func (s *RedisStore) documentKey(projectID string) string {
	return s.prefix + "project:" + projectID + ":config"
}

func (s *RedisStore) threadsKey(projectID string) string {
	return s.prefix + "project:" + projectID + ":comments"
}

func (s *RedisStore) GetDocument(ctx context.Context, projectID string) (build.Document, error) {
	raw, err := s.client.Get(ctx, s.documentKey(projectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.defaults(projectID), nil
	}
	if err != nil {
		return build.Document{}, fmt.Errorf("%w: get document: %v", ErrUnavailable, err)
	}

	var doc build.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return build.Document{}, fmt.Errorf("decode document %s: %w", projectID, err)
	}
	if doc.Selections == nil {
		doc.Selections = map[string]string{}
	}
	return doc, nil
}

func (s *RedisStore) PutDocument(ctx context.Context, projectID string, doc build.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := s.client.Set(ctx, s.documentKey(projectID), raw, 0).Err(); err != nil {
		return fmt.Errorf("%w: put document: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) GetThreads(ctx context.Context, projectID string) (build.Threads, error) {
	raw, err := s.client.Get(ctx, s.threadsKey(projectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return build.Threads{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get threads: %v", ErrUnavailable, err)
	}

	threads := build.Threads{}
	if err := json.Unmarshal(raw, &threads); err != nil {
		return nil, fmt.Errorf("decode threads %s: %w", projectID, err)
	}
	return threads, nil
}

func (s *RedisStore) PutThreads(ctx context.Context, projectID string, threads build.Threads) error {
	if threads == nil {
		threads = build.Threads{}
	}
	raw, err := json.Marshal(threads)
	if err != nil {
		return fmt.Errorf("encode threads: %w", err)
	}
	if err := s.client.Set(ctx, s.threadsKey(projectID), raw, 0).Err(); err != nil {
		return fmt.Errorf("%w: put threads: %v", ErrUnavailable, err)
	}
	return nil
}
