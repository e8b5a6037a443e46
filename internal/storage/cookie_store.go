package storage

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// CookieStore keeps values as session cookies in a jar file, one Set-Cookie
// line per key. Values are URL-encoded so any string survives cookie syntax.
//
// Cookies carry no Expires or Max-Age: they live until they are deleted.
type CookieStore struct {
	mu     sync.Mutex
	path   string
	domain string
}

// NewCookieStore returns a store backed by the jar file at path. The parent
// directory is created if needed; the file itself is created on first write.
func NewCookieStore(path, domain string) (*CookieStore, error) {
	if path == "" {
		return nil, errors.New("cookie jar path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cookie jar directory: %w", err)
	}
	return &CookieStore{path: path, domain: domain}, nil
}

func (s *CookieStore) Get(key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jar, err := s.load()
	if err != nil {
		return "", false, err
	}
	c, ok := jar[key]
	if !ok {
		return "", false, nil
	}
	value, err := url.QueryUnescape(c.Value)
	if err != nil {
		return "", false, fmt.Errorf("failed to decode cookie %s: %w", key, err)
	}
	return value, true, nil
}

func (s *CookieStore) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jar, err := s.load()
	if err != nil {
		return err
	}
	jar[key] = &http.Cookie{
		Name:     key,
		Value:    url.QueryEscape(value),
		Path:     "/",
		Domain:   s.domain,
		SameSite: http.SameSiteLaxMode,
	}
	return s.save(jar)
}

func (s *CookieStore) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jar, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := jar[key]; !ok {
		return nil
	}
	delete(jar, key)
	return s.save(jar)
}

// Cookies returns the stored cookies sorted by name.
func (s *CookieStore) Cookies() ([]*http.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jar, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*http.Cookie, 0, len(jar))
	for _, c := range jar {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// load parses the jar file. Lines that are not valid Set-Cookie values are
// skipped so one damaged line does not lose the rest of the jar.
func (s *CookieStore) load() (map[string]*http.Cookie, error) {
	jar := make(map[string]*http.Cookie)

	// #nosec G304 -- path comes from configuration, not request input
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return jar, nil
		}
		return nil, fmt.Errorf("failed to open cookie jar: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		c, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		jar[c.Name] = c
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cookie jar: %w", err)
	}
	return jar, nil
}

func (s *CookieStore) save(jar map[string]*http.Cookie) error {
	names := make([]string, 0, len(jar))
	for name := range jar {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# allin cookie jar\n")
	for _, name := range names {
		b.WriteString(jar[name].String())
		b.WriteByte('\n')
	}

	if err := replaceFile(s.path, []byte(b.String())); err != nil {
		return fmt.Errorf("failed to save cookie jar: %w", err)
	}
	return nil
}
