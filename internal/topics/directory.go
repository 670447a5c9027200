// Package topics is the client for the backend's conversation list.
package topics

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/metrics"
)

const (
	DefaultTTL = 3 * time.Second
	TopicsPath = "/api/v1/chat/topics"

	maxBody      = 8 << 20
	fetchTimeout = 30 * time.Second
)

var ErrNotFound = errors.New("topics: not found")

// Directory lists, creates and deletes topics on the backend.
//
// The unfiltered list is cached for a short TTL, and concurrent List calls
// that miss the cache share a single request. A caller that gives up does
// not cancel the shared request for the others.
type Directory struct {
	baseURL string
	tokens  auth.TokenSource
	http    *http.Client
	cache   Cache
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time

	group singleflight.Group

	mu  sync.Mutex
	gen map[string]uint64 // bumped by invalidate; fetches started before a bump are not cached
}

type Option func(*Directory)

func WithCache(c Cache) Option { return func(d *Directory) { d.cache = c } }

func WithTTL(ttl time.Duration) Option { return func(d *Directory) { d.ttl = ttl } }

func WithHTTPClient(c *http.Client) Option { return func(d *Directory) { d.http = c } }

func WithLogger(l *zap.Logger) Option { return func(d *Directory) { d.log = l } }

func New(baseURL string, tokens auth.TokenSource, opts ...Option) *Directory {
	d := &Directory{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: fetchTimeout},
		ttl:     DefaultTTL,
		log:     zap.NewNop(),
		now:     time.Now,
		gen:     make(map[string]uint64),
	}
	for _, o := range opts {
		o(d)
	}
	if d.cache == nil {
		d.cache = NewMemoryCache()
	}
	return d
}

var _ chat.TopicDirectory = (*Directory)(nil)

// List returns the topics matching f, sorted for display.
func (d *Directory) List(ctx context.Context, f chat.TopicFilter) ([]chat.Topic, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	key := cacheKey(token)

	if b, ok, err := d.cache.Get(ctx, key); err != nil {
		d.log.Warn("topic cache read failed", zap.Error(err))
	} else if ok {
		var cached []chat.Topic
		if err := json.Unmarshal(b, &cached); err == nil {
			metrics.TopicFetches.WithLabelValues("cache").Inc()
			return filter(cached, f), nil
		}
		d.log.Warn("topic cache entry unreadable, refetching")
		if err := d.cache.Delete(ctx, key); err != nil {
			d.log.Warn("topic cache delete failed", zap.Error(err))
		}
	}

	ch := d.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return d.fetchList(fctx, token, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			metrics.TopicFetches.WithLabelValues("shared").Inc()
		} else {
			metrics.TopicFetches.WithLabelValues("network").Inc()
		}
		return filter(res.Val.([]chat.Topic), f), nil
	}
}

func (d *Directory) fetchList(ctx context.Context, token, key string) ([]chat.Topic, error) {
	gen := d.generation(key)
	body, err := d.do(ctx, token, http.MethodGet, TopicsPath, nil)
	if err != nil {
		return nil, err
	}
	payload, err := unwrap(body)
	if err != nil {
		return nil, err
	}
	list, err := parseTopics(payload)
	if err != nil {
		return nil, err
	}
	if err := d.store(ctx, key, gen, list); err != nil {
		d.log.Warn("topic cache write failed", zap.Error(err))
	}
	return list, nil
}

func (d *Directory) generation(key string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen[key]
}

// store caches list unless key was invalidated after the fetch began. The
// check and the write happen under mu so an invalidate cannot slip between.
func (d *Directory) store(ctx context.Context, key string, gen uint64, list []chat.Topic) error {
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen[key] != gen {
		return nil
	}
	return d.cache.Set(ctx, key, b, d.ttl)
}

func (d *Directory) drop(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen[key]++
	d.group.Forget(key)
	return d.cache.Delete(ctx, key)
}

// filter copies the matching topics so callers never share the slice held
// by the coalesced request.
func filter(list []chat.Topic, f chat.TopicFilter) []chat.Topic {
	out := make([]chat.Topic, 0, len(list))
	for _, t := range list {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	chat.SortTopics(out)
	return out
}

// Invalidate drops the cached list so the next List goes to the network.
func (d *Directory) Invalidate(ctx context.Context) error {
	token, err := d.token(ctx)
	if err != nil {
		return err
	}
	return d.drop(ctx, cacheKey(token))
}

func (d *Directory) Create(ctx context.Context, title string) (chat.Topic, error) {
	token, err := d.token(ctx)
	if err != nil {
		return chat.Topic{}, err
	}
	b, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return chat.Topic{}, err
	}
	body, err := d.do(ctx, token, http.MethodPost, TopicsPath, b)
	if err != nil {
		return chat.Topic{}, err
	}
	payload, err := unwrap(body)
	if err != nil {
		return chat.Topic{}, err
	}
	t := parseTopic(payload)
	if t.ID == "" {
		return chat.Topic{}, fmt.Errorf("topics: create returned no id")
	}
	if t.Title == "" {
		t.Title = title
	}
	d.invalidate(ctx, token)
	return t, nil
}

// Messages returns the stored history of a topic, oldest first.
func (d *Directory) Messages(ctx context.Context, topicID string) ([]chat.Message, error) {
	if topicID == "" {
		return nil, ErrNotFound
	}
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	body, err := d.do(ctx, token, http.MethodGet, TopicsPath+"/"+url.PathEscape(topicID)+"/messages", nil)
	if err != nil {
		return nil, err
	}
	payload, err := unwrap(body)
	if err != nil {
		return nil, err
	}
	return parseMessages(payload, d.now())
}

func (d *Directory) Delete(ctx context.Context, topicID string) error {
	if topicID == "" {
		return ErrNotFound
	}
	token, err := d.token(ctx)
	if err != nil {
		return err
	}
	body, err := d.do(ctx, token, http.MethodDelete, TopicsPath+"/"+url.PathEscape(topicID), nil)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if _, err := unwrap(body); err != nil {
			return err
		}
	}
	d.invalidate(ctx, token)
	return nil
}

func (d *Directory) invalidate(ctx context.Context, token string) {
	if err := d.drop(ctx, cacheKey(token)); err != nil {
		d.log.Warn("topic cache delete failed", zap.Error(err))
	}
}

func (d *Directory) token(ctx context.Context) (string, error) {
	if d.tokens == nil {
		return "", auth.ErrLoginRequired
	}
	return d.tokens.Token(ctx)
}

func (d *Directory) do(ctx context.Context, token, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("topics: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("topics: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("topics: status %d: %w", resp.StatusCode, auth.ErrLoginRequired)
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := gjson.GetBytes(b, "message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("topics: status %d: %s", resp.StatusCode, msg)
	}
	return b, nil
}

// cacheKey scopes cached lists to the credential that fetched them.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "topics:" + hex.EncodeToString(sum[:8])
}
