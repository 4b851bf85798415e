package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// AnswerKey maps every question of a template to its accepted option(s),
// keyed by exam version ("set"). Most questions accept exactly one option;
// re-keyed or disputed questions may accept several. Keys are read-only once
// loaded.
type AnswerKey struct {
	KeyVersion   string  `json:"version"`
	TemplateName string  `json:"template"`
	Answers      [][]int `json:"answers"`
}

// Version returns the exam version identifier of the key.
func (k *AnswerKey) Version() string {
	return k.KeyVersion
}

// Accepts reports whether the given option is accepted for the question.
func (k *AnswerKey) Accepts(question, option int) bool {
	if question < 0 || question >= len(k.Answers) {
		return false
	}
	for _, accepted := range k.Answers[question] {
		if accepted == option {
			return true
		}
	}
	return false
}

// Accepted returns the accepted options for a question.
func (k *AnswerKey) Accepted(question int) []int {
	if question < 0 || question >= len(k.Answers) {
		return nil
	}
	return k.Answers[question]
}

// Validate checks the key against the template it grades.
func (k *AnswerKey) Validate(tmpl *SheetTemplate) error {
	if k.KeyVersion == "" {
		return fmt.Errorf("answer key version is required")
	}
	if tmpl == nil {
		return fmt.Errorf("answer key %q has no template to validate against", k.KeyVersion)
	}
	if k.TemplateName != tmpl.Name() {
		return fmt.Errorf("answer key %q targets template %q, not %q", k.KeyVersion, k.TemplateName, tmpl.Name())
	}
	if len(k.Answers) != tmpl.Questions {
		return fmt.Errorf("answer key %q has %d answers, template has %d questions", k.KeyVersion, len(k.Answers), tmpl.Questions)
	}
	for q, accepted := range k.Answers {
		if len(accepted) == 0 {
			return fmt.Errorf("answer key %q question %d has no accepted option", k.KeyVersion, q+1)
		}
		for _, option := range accepted {
			if option < 0 || option >= tmpl.Options {
				return fmt.Errorf("answer key %q question %d accepts option %d, template has %d options", k.KeyVersion, q+1, option, tmpl.Options)
			}
		}
	}
	return nil
}

// SaveToFile saves the key to a JSON file.
func (k *AnswerKey) SaveToFile(path string) error {
	data, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadKeyFromFile loads an answer key from a JSON file and validates it
// against its registered template.
func LoadKeyFromFile(path string) (*AnswerKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var key AnswerKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, err
	}

	if err := key.Validate(Get(key.TemplateName)); err != nil {
		return nil, fmt.Errorf("invalid answer key: %w", err)
	}

	return &key, nil
}

// KeyStore holds the answer keys for the exam versions in play. Lookups are
// safe for concurrent use; the store is populated once at startup.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]*AnswerKey
}

// NewKeyStore creates an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]*AnswerKey)}
}

// Add registers a key under its version, replacing any previous key for the
// same version.
func (s *KeyStore) Add(key *AnswerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.Version()] = key
}

// Get returns the key for an exam version, or nil if unknown.
func (s *KeyStore) Get(version string) *AnswerKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[version]
}

// Versions returns the registered exam versions.
func (s *KeyStore) Versions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := make([]string, 0, len(s.keys))
	for v := range s.keys {
		versions = append(versions, v)
	}
	return versions
}

// LoadKeyDir loads every *.json answer key in a directory into a new store.
func LoadKeyDir(dir string) (*KeyStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading answer key directory: %w", err)
	}

	store := NewKeyStore()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		key, err := LoadKeyFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", entry.Name(), err)
		}
		store.Add(key)
	}
	return store, nil
}
