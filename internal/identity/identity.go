// Package identity resolves the local participant once per session. The
// identifier is persisted in a small JSON file so a restarted client keeps
// its colour and presence slot.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrDisplayNameRequired = errors.New("display name is required")

// Participant is the local user as seen by every collaboration component.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Color       string `json:"-"`
}

// New returns a participant with a fresh identifier.
func New(displayName string) (Participant, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return Participant{}, ErrDisplayNameRequired
	}
	return Participant{ID: uuid.NewString(), DisplayName: displayName}, nil
}

// Resolve reads the participant stored at path, creating and persisting a new
// one when the file does not exist. A non-empty displayName overrides the
// stored name and is written back.
func Resolve(path, displayName string) (Participant, error) {
	displayName = strings.TrimSpace(displayName)

	var p Participant
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		p, err = New(displayName)
		if err != nil {
			return Participant{}, err
		}
		return p, save(path, p)
	case err != nil:
		return Participant{}, fmt.Errorf("read identity: %w", err)
	}

	if err := json.Unmarshal(raw, &p); err != nil {
		return Participant{}, fmt.Errorf("decode identity %s: %w", path, err)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if displayName != "" && displayName != p.DisplayName {
		p.DisplayName = displayName
		return p, save(path, p)
	}
	if p.DisplayName == "" {
		return Participant{}, ErrDisplayNameRequired
	}
	return p, nil
}

func save(path string, p Participant) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}
