package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type transactorMock struct{}

// NewTransactorMock returns a Transactor that runs fn without a transaction.
func NewTransactorMock() Transactor {
	return transactorMock{}
}

func (transactorMock) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// CacheMock is an in-memory Cache. Entries never expire.
type CacheMock struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewCacheMock() *CacheMock {
	return &CacheMock{entries: make(map[string][]byte)}
}

func (c *CacheMock) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *CacheMock) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *CacheMock) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

// Has reports whether key is cached.
func (c *CacheMock) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// LoggerMock records the logged messages.
type LoggerMock struct {
	mu       sync.Mutex
	Messages []string
}

var _ Logger = (*LoggerMock)(nil)

func (l *LoggerMock) log(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = append(l.Messages, msg)
}

func (l *LoggerMock) Debug(msg string, _ ...interface{}) { l.log(msg) }
func (l *LoggerMock) Info(msg string, _ ...interface{})  { l.log(msg) }
func (l *LoggerMock) Warn(msg string, _ ...interface{})  { l.log(msg) }
func (l *LoggerMock) Error(msg string, _ ...interface{}) { l.log(msg) }
func (l *LoggerMock) Fatal(msg string, _ ...interface{}) { l.log(msg) }
