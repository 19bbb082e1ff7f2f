package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedisStore keeps each document as a JSON value at doc:<collection>:<id>
// and tracks collection membership in a set at col:<collection>. Queries
// scan the collection set and match the field in process, which is fine at
// catalog scale.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStore(addr, password string, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		logger: logger,
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func docKey(collection, id string) string {
	return fmt.Sprintf("doc:%s:%s", collection, id)
}

func colKey(collection string) string {
	return fmt.Sprintf("col:%s", collection)
}

func (s *RedisStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	raw, err := s.client.Get(ctx, docKey(collection, id)).Result()
	if err == redis.Nil {
		return nil, &StoreError{Op: "get", Collection: collection, Key: id, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Collection: collection, Key: id, Err: err}
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, &StoreError{Op: "get", Collection: collection, Key: id, Err: err}
	}
	return &Document{ID: id, Fields: fields}, nil
}

func (s *RedisStore) Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error {
	if merge {
		existing, err := s.Get(ctx, collection, id)
		if err == nil {
			merged := make(map[string]interface{}, len(existing.Fields)+len(fields))
			for k, v := range existing.Fields {
				merged[k] = v
			}
			for k, v := range fields {
				merged[k] = v
			}
			fields = merged
		} else if !IsNotFound(err) {
			return &StoreError{Op: "set", Collection: collection, Key: id, Err: err}
		}
	}

	jsonData, err := json.Marshal(fields)
	if err != nil {
		return &StoreError{Op: "set", Collection: collection, Key: id, Err: err}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, docKey(collection, id), jsonData, 0)
	pipe.SAdd(ctx, colKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return &StoreError{Op: "set", Collection: collection, Key: id, Err: err}
	}
	return nil
}

func (s *RedisStore) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, docKey(collection, id))
	pipe.SRem(ctx, colKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return &StoreError{Op: "delete", Collection: collection, Key: id, Err: err}
	}
	return nil
}

func (s *RedisStore) Query(ctx context.Context, collection, field string, equals interface{}) ([]Document, error) {
	docs, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}

	var results []Document
	for _, doc := range docs {
		if doc.Fields[field] == equals {
			results = append(results, doc)
		}
	}
	return results, nil
}

func (s *RedisStore) List(ctx context.Context, collection string) ([]Document, error) {
	ids, err := s.client.SMembers(ctx, colKey(collection)).Result()
	if err != nil {
		return nil, &StoreError{Op: "list", Collection: collection, Err: err}
	}

	var results []Document
	for _, id := range ids {
		doc, err := s.Get(ctx, collection, id)
		if err != nil {
			if IsNotFound(err) {
				// Stale set member, document already deleted.
				s.logger.Warn("dropping stale collection member",
					zap.String("collection", collection),
					zap.String("id", id),
				)
				continue
			}
			return nil, err
		}
		results = append(results, *doc)
	}
	return results, nil
}
