// Package fs provides a file system-based credential store for the easyauth client.
package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/panyam/easyauth/client"
)

// FSCredentialStore stores credentials as a JSON file on the filesystem.
// Writes go straight to disk through a temp file and rename. Reads reload
// the file so several processes can share it.
type FSCredentialStore struct {
	mu   sync.Mutex
	path string
}

// credentialFile is the JSON structure stored on disk
type credentialFile struct {
	Servers map[string]*client.ServerCredential `json:"servers"`
}

// NewFSCredentialStore creates a new FS-based credential store.
// If path is empty, defaults to <user config dir>/<appName>/credentials.json
func NewFSCredentialStore(path string, appName string) (*FSCredentialStore, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "easyauth"
		}
		path = filepath.Join(configDir, appName, "credentials.json")
	}
	store := &FSCredentialStore{path: path}
	// fail early on a corrupt file
	if _, err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// Path returns the path to the credentials file
func (s *FSCredentialStore) Path() string {
	return s.path
}

func (s *FSCredentialStore) load() (map[string]*client.ServerCredential, error) {
	servers := make(map[string]*client.ServerCredential)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return servers, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	for k, v := range file.Servers {
		if v != nil {
			servers[k] = v
		}
	}
	return servers, nil
}

func (s *FSCredentialStore) save(servers map[string]*client.ServerCredential) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(credentialFile{Servers: servers}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// normalizeURL keys credentials by scheme and host.
func normalizeURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: no host", serverURL)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

func (s *FSCredentialStore) GetCredential(serverURL string) (*client.ServerCredential, error) {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	servers, err := s.load()
	if err != nil {
		return nil, err
	}
	return servers[key], nil
}

func (s *FSCredentialStore) SetCredential(serverURL string, cred *client.ServerCredential) error {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	servers, err := s.load()
	if err != nil {
		return err
	}
	servers[key] = cred
	return s.save(servers)
}

func (s *FSCredentialStore) RemoveCredential(serverURL string) error {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	servers, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := servers[key]; !ok {
		return nil
	}
	delete(servers, key)
	return s.save(servers)
}

func (s *FSCredentialStore) ListServers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	servers, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(servers))
	for k := range servers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

var _ client.CredentialStore = (*FSCredentialStore)(nil)
