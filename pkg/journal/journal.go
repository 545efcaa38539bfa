// Package journal persists transaction resolutions so an operator can tell,
// after a crash, which recovered transactions were already decided.
package journal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Action is the decision recorded for a transaction.
type Action string

const (
	ActionCommit   Action = "commit"
	ActionRollback Action = "rollback"
)

// Entry records one resolved transaction.
type Entry struct {
	Gid      string    `json:"gid"`
	Action   Action    `json:"action"`
	Database string    `json:"database,omitempty"`
	Resolved time.Time `json:"resolved_at"`
}

// State is the persisted journal contents.
type State struct {
	Entries   []Entry   `json:"entries"`
	Generated time.Time `json:"generated_at"`
}

// Journal handles encrypted persistence of resolutions.
type Journal struct {
	path string
	key  []byte
}

// New returns an encrypted journal. If either path or key is empty, nil is
// returned; a nil journal accepts writes and reads as no-ops.
func New(path, key string) *Journal {
	if path == "" || key == "" {
		return nil
	}
	derived := sha256.Sum256([]byte(key))
	return &Journal{
		path: path,
		key:  derived[:],
	}
}

// Record appends a resolution and writes the journal back encrypted.
func (j *Journal) Record(gid, database string, action Action) error {
	if j == nil {
		return nil
	}

	state, err := j.Load()
	if err != nil {
		return err
	}
	if state == nil {
		state = &State{}
	}
	state.Entries = append(state.Entries, Entry{
		Gid:      gid,
		Action:   action,
		Database: database,
		Resolved: time.Now(),
	})
	return j.Save(state)
}

// Resolution returns the recorded decision for gid, if any.
func (j *Journal) Resolution(gid string) (Entry, bool, error) {
	if j == nil {
		return Entry{}, false, nil
	}

	state, err := j.Load()
	if err != nil {
		return Entry{}, false, err
	}
	if state == nil {
		return Entry{}, false, nil
	}
	// Later entries win.
	for i := len(state.Entries) - 1; i >= 0; i-- {
		if state.Entries[i].Gid == gid {
			return state.Entries[i], true, nil
		}
	}
	return Entry{}, false, nil
}

// Save writes the journal state encrypted to disk.
func (j *Journal) Save(state *State) error {
	if j == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return err
	}

	state.Generated = time.Now()
	plain, err := json.Marshal(state)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(j.key)
	if err != nil {
		return err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}

	ciphertext := gcm.Seal(nonce, nonce, plain, nil)
	encoded := base64.StdEncoding.EncodeToString(ciphertext)

	return os.WriteFile(j.path, []byte(encoded), 0o600)
}

// Load reads and decrypts the journal from disk. A missing file is an empty
// journal, not an error.
func (j *Journal) Load() (*State, error) {
	if j == nil {
		return nil, nil
	}

	content, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(string(content))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(j.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, errors.New("invalid ciphertext")
	}

	nonce := raw[:nonceSize]
	ciphertext := raw[nonceSize:]

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}

	var state State
	if err := json.Unmarshal(plain, &state); err != nil {
		return nil, err
	}

	return &state, nil
}
