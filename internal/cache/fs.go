// Package cache implements an on-disk content cache for fetched pages
// and provider responses.
//
// Entries are keyed by a canonicalized request (URL plus form body for
// POSTs) and stored as a payload file next to a JSON metadata sidecar.
// A stale or invalid entry is evicted on read.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
	sha256hash "github.com/trailblaze-app/trailblaze-scraper/internal/hash/sha256"
	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
)

type entryMeta struct {
	URL         string    `json:"url"`
	Method      string    `json:"method"`
	FetchedAt   time.Time `json:"fetched_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	ContentHash string    `json:"content_hash"`
}

// Store is a filesystem-backed content cache.
type Store struct {
	dir    string
	hasher *sha256hash.Hasher
	clock  events.Clock
	log    *zap.Logger
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string, clock events.Clock, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		hasher: sha256hash.New(),
		clock:  clock,
		log:    log,
	}, nil
}

// Get returns the cached payload for the request if a fresh, valid
// entry exists. A stale entry or one rejected by the request validator
// is evicted and reported as a miss.
func (s *Store) Get(req events.FetchRequest) ([]byte, bool) {
	key := s.Key(req)
	meta, err := s.readMeta(key)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("cache meta unreadable, evicting",
				zap.String("url", req.URL),
				zap.Error(err),
			)
			s.evict(key, "eviction")
		}
		metrics.ObserveCache("miss")
		return nil, false
	}

	if s.clock.Now().After(meta.ExpiresAt) {
		s.evict(key, "eviction")
		metrics.ObserveCache("miss")
		return nil, false
	}

	body, err := os.ReadFile(s.bodyPath(key))
	if err != nil {
		s.evict(key, "eviction")
		metrics.ObserveCache("miss")
		return nil, false
	}
	if s.hasher.Hash(body) != meta.ContentHash {
		s.log.Warn("cache payload hash mismatch, evicting", zap.String("url", req.URL))
		s.evict(key, "eviction")
		metrics.ObserveCache("miss")
		return nil, false
	}
	if req.Validate != nil && !req.Validate(body) {
		s.evict(key, "validator_fail")
		metrics.ObserveCache("miss")
		return nil, false
	}

	metrics.ObserveCache("hit")
	return body, true
}

// Put stores the payload for the request with the given TTL. Payloads
// rejected by the request validator are never stored.
func (s *Store) Put(req events.FetchRequest, body []byte, ttl time.Duration) error {
	if req.Validate != nil && !req.Validate(body) {
		metrics.ObserveCache("validator_fail")
		return nil
	}
	key := s.Key(req)
	now := s.clock.Now()
	meta := entryMeta{
		URL:         req.URL,
		Method:      req.Method,
		FetchedAt:   now,
		ExpiresAt:   now.Add(ttl),
		ContentHash: s.hasher.Hash(body),
	}

	if err := os.WriteFile(s.bodyPath(key), body, 0o644); err != nil {
		return fmt.Errorf("write cache body: %w", err)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal cache meta: %w", err)
	}
	if err := os.WriteFile(s.metaPath(key), raw, 0o644); err != nil {
		return fmt.Errorf("write cache meta: %w", err)
	}
	metrics.ObserveCache("store")
	return nil
}

// Invalidate removes any entry for the request.
func (s *Store) Invalidate(req events.FetchRequest) {
	s.evict(s.Key(req), "eviction")
}

// Key derives the cache key for a request. The URL is canonicalized so
// equivalent spellings share an entry, and POST form bodies are folded
// in so distinct queries never collide.
func (s *Store) Key(req events.FetchRequest) string {
	canon := canonicalURL(req.URL)
	if len(req.Form) > 0 {
		canon += "|" + req.Form.Encode()
	}
	if req.Method != "" && req.Method != "GET" {
		canon = req.Method + "|" + canon
	}
	return s.hasher.Hash([]byte(canon))
}

func (s *Store) readMeta(key string) (entryMeta, error) {
	raw, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		return entryMeta{}, err
	}
	var meta entryMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return entryMeta{}, fmt.Errorf("decode cache meta: %w", err)
	}
	return meta, nil
}

func (s *Store) evict(key, op string) {
	_ = os.Remove(s.bodyPath(key))
	_ = os.Remove(s.metaPath(key))
	metrics.ObserveCache(op)
}

func (s *Store) bodyPath(key string) string {
	return filepath.Join(s.dir, key+".body")
}

func (s *Store) metaPath(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// canonicalURL lowercases the scheme and host, trims trailing path
// slashes, and sorts query parameters.
func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for _, v := range vals {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}
	u.Fragment = ""
	return u.String()
}
