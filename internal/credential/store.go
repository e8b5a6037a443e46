package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"allin/internal/storage"
	"allin/pkg/logging"
)

// Persisted keys, identical in both physical stores.
const (
	KeyLoggedIn = "isLoggedIn"
	KeyUser     = "user"
	KeyToken    = "token"
)

// IdentityKeys are every key the credential store owns.
var IdentityKeys = []string{KeyLoggedIn, KeyUser, KeyToken}

// Sources reported in Lookup.Source.
const (
	SourceNone    = ""
	SourceDurable = "durable"
	SourceCookie  = "cookie"
)

// ErrNoToken is returned by Write for a snapshot without a bearer token.
var ErrNoToken = errors.New("identity snapshot has no bearer token")

// Lookup is the detailed result of reading the stores.
type Lookup struct {
	// Snapshot is the decoded identity, nil when absent or undecodable.
	Snapshot *IdentitySnapshot

	// Token is set when a bearer token is stored without a decodable
	// profile, so the profile can be recovered from the server.
	Token string

	// Discarded reports that a corrupt profile was found and removed.
	Discarded bool

	// Source is the store the data was read from.
	Source string
}

// Undecodable reports whether credential data was present but could not be
// turned into a snapshot.
func (l Lookup) Undecodable() bool {
	return l.Snapshot == nil && (l.Discarded || l.Token != "")
}

// Store reads and writes the identity snapshot across a durable store and a
// cookie store. Writes are whole-snapshot replacements.
type Store struct {
	mu      sync.Mutex
	durable storage.Store
	cookie  storage.Store
}

// NewStore returns a credential store over the two physical stores.
func NewStore(durable, cookie storage.Store) *Store {
	return &Store{durable: durable, cookie: cookie}
}

type rawIdentity struct {
	loggedIn string
	user     string
	token    string
	found    bool
}

func readRaw(name string, s storage.Store) rawIdentity {
	var raw rawIdentity
	get := func(key string) string {
		v, ok, err := s.Get(key)
		if err != nil {
			logging.Warn("Credential", "failed to read %s from %s store: %v", key, name, err)
			return ""
		}
		if ok {
			raw.found = true
		}
		return v
	}
	raw.loggedIn = get(KeyLoggedIn)
	raw.user = get(KeyUser)
	raw.token = get(KeyToken)
	return raw
}

// Read returns the stored snapshot, or false when there is none.
func (s *Store) Read() (*IdentitySnapshot, bool) {
	l := s.Inspect()
	return l.Snapshot, l.Snapshot != nil
}

// Inspect reads the durable store, falling back to the cookie store when the
// durable store holds no identity keys. A cookie hit is copied back into the
// durable store. A profile that fails to decode is deleted from both stores
// and reported via Lookup.Discarded rather than as an error.
func (s *Store) Inspect() Lookup {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := readRaw(SourceDurable, s.durable)
	source := SourceDurable
	if !raw.found {
		raw = readRaw(SourceCookie, s.cookie)
		if !raw.found {
			return Lookup{}
		}
		source = SourceCookie
		s.resyncDurable(raw)
	}

	l := Lookup{Source: source}
	if raw.loggedIn == "false" {
		return l
	}

	if raw.user != "" {
		user, err := decodeUser(raw.user)
		if err != nil {
			logging.Warn("Credential", "discarding undecodable profile from %s store: %v", source, err)
			s.discardProfile()
			l.Discarded = true
		} else if raw.token != "" {
			l.Snapshot = &IdentitySnapshot{User: user, BearerToken: raw.token}
			return l
		}
	}

	l.Token = raw.token
	return l
}

func (s *Store) resyncDurable(raw rawIdentity) {
	var errs []error
	set := func(key, value string) {
		if value == "" {
			return
		}
		if err := s.durable.Set(key, value); err != nil {
			errs = append(errs, err)
		}
	}
	set(KeyLoggedIn, raw.loggedIn)
	set(KeyUser, raw.user)
	set(KeyToken, raw.token)
	if err := errors.Join(errs...); err != nil {
		logging.Warn("Credential", "failed to resync durable store from cookie: %v", err)
		return
	}
	logging.Debug("Credential", "durable store resynchronized from cookie store")
}

func (s *Store) discardProfile() {
	for _, st := range []storage.Store{s.durable, s.cookie} {
		for _, key := range []string{KeyUser, KeyLoggedIn} {
			if err := st.Delete(key); err != nil {
				logging.Warn("Credential", "failed to discard %s: %v", key, err)
			}
		}
	}
}

// Write persists the snapshot to both stores.
func (s *Store) Write(snap *IdentitySnapshot) error {
	if snap == nil {
		return errors.New("identity snapshot is nil")
	}
	if snap.BearerToken == "" {
		return ErrNoToken
	}
	user, err := encodeUser(snap.User)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, st := range []storage.Store{s.durable, s.cookie} {
		for _, kv := range [][2]string{
			{KeyLoggedIn, "true"},
			{KeyUser, user},
			{KeyToken, snap.BearerToken},
		} {
			if err := st.Set(kv[0], kv[1]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		logging.Audit("Credential", "identity_store_failed", "user_id", snap.User.ID, "error", err.Error())
		return fmt.Errorf("failed to persist identity: %w", err)
	}
	logging.Audit("Credential", "identity_stored", "user_id", snap.User.ID)
	return nil
}

// Clear removes every identity key from both stores. Every deletion is
// attempted even when earlier ones fail; the joined error reports all failures.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, st := range []storage.Store{s.durable, s.cookie} {
		for _, key := range IdentityKeys {
			if err := st.Delete(key); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		logging.Audit("Credential", "identity_clear_failed", "error", err.Error())
		return fmt.Errorf("failed to clear identity: %w", err)
	}
	logging.Audit("Credential", "identity_cleared")
	return nil
}

// Token returns the stored bearer token, or "" when none is stored.
func (s *Store) Token() string {
	l := s.Inspect()
	if l.Snapshot != nil {
		return l.Snapshot.BearerToken
	}
	return l.Token
}

func encodeUser(u UserProfile) (string, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("failed to encode profile: %w", err)
	}
	return url.QueryEscape(string(data)), nil
}

func decodeUser(raw string) (UserProfile, error) {
	var u UserProfile
	unescaped, err := url.QueryUnescape(raw)
	if err != nil {
		return u, fmt.Errorf("url decode: %w", err)
	}
	if err := json.Unmarshal([]byte(unescaped), &u); err != nil {
		return u, fmt.Errorf("json decode: %w", err)
	}
	return u, nil
}
