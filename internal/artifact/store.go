// Package artifact provides durable, session-scoped storage for stage
// outputs. Artifacts are written with a temp-then-rename discipline and a
// SHA-256 checksum, and a completed artifact is never overwritten: a retried
// stage writes a new version and the latest valid version wins.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when no completed artifact exists for a
// (session, stage) key.
var ErrNotFound = errors.New("artifact not found")

// ErrChecksum is returned when a stored artifact fails checksum
// verification, usually truncation from a crash mid-write.
var ErrChecksum = errors.New("artifact checksum mismatch")

// Source is one citation attached to an artifact.
type Source struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	Link    string `json:"link,omitempty"`
}

// Artifact is the immutable output of a completed stage.
type Artifact struct {
	SessionID string    `json:"session"`
	Stage     string    `json:"stage"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
	Version   int       `json:"version"`
}

// Ref points at one stored artifact version.
type Ref struct {
	Stage    string
	Version  int
	Checksum string
	Path     string
}

// Store persists artifacts under root/<sessionID>/artifacts/.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the sessions directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// artifactsDir returns the artifacts directory for a session.
func (s *Store) artifactsDir(sessionID string) string {
	return filepath.Join(s.root, sessionID, "artifacts")
}

// artifactPath returns the file path for one artifact version.
func (s *Store) artifactPath(sessionID, stage string, version int) string {
	name := fmt.Sprintf("%s.v%03d.json", stage, version)
	return filepath.Join(s.artifactsDir(sessionID), name)
}

// Put durably writes a new artifact version for (sessionID, stage) and
// returns a reference to it. The payload is first written to a temp file in
// the same directory and then renamed into place, so a concurrent reader
// never observes a partial artifact.
func (s *Store) Put(sessionID, stage, content string, sources []Source) (*Ref, error) {
	dir := s.artifactsDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create artifacts directory: %w", err)
	}

	version, err := s.latestVersion(sessionID, stage)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	version++

	art := Artifact{
		SessionID: sessionID,
		Stage:     stage,
		Content:   content,
		Sources:   sources,
		Checksum:  Checksum(content),
		CreatedAt: time.Now().UTC(),
		Version:   version,
	}

	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}

	tmp, err := os.CreateTemp(dir, stage+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("close temp artifact: %w", err)
	}

	path := s.artifactPath(sessionID, stage, version)
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("rename artifact into place: %w", err)
	}

	return &Ref{Stage: stage, Version: version, Checksum: art.Checksum, Path: path}, nil
}

// Get returns the latest artifact for (sessionID, stage). Returns
// ErrNotFound if no artifact exists and ErrChecksum if the stored content
// does not match its recorded checksum.
func (s *Store) Get(sessionID, stage string) (*Artifact, error) {
	version, err := s.latestVersion(sessionID, stage)
	if err != nil {
		return nil, err
	}
	return s.read(sessionID, stage, version)
}

// Exists reports whether a completed artifact exists for (sessionID, stage).
// It is side-effect-free and does not verify the checksum.
func (s *Store) Exists(sessionID, stage string) bool {
	_, err := s.latestVersion(sessionID, stage)
	return err == nil
}

// Verify reads the latest artifact for (sessionID, stage) and checks its
// checksum. Used during recovery to detect truncation from a crash
// mid-write. Returns the artifact when valid.
func (s *Store) Verify(sessionID, stage string) (*Artifact, error) {
	return s.Get(sessionID, stage)
}

// RemoveSession deletes every artifact for a session. Used by garbage
// collection only; live sessions must never be removed.
func (s *Store) RemoveSession(sessionID string) error {
	if err := os.RemoveAll(filepath.Join(s.root, sessionID)); err != nil {
		return fmt.Errorf("remove session artifacts: %w", err)
	}
	return nil
}

// read loads and verifies one artifact version.
func (s *Store) read(sessionID, stage string, version int) (*Artifact, error) {
	path := s.artifactPath(sessionID, stage, version)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrChecksum, filepath.Base(path), err)
	}

	if Checksum(art.Content) != art.Checksum {
		return nil, fmt.Errorf("%w: %s", ErrChecksum, filepath.Base(path))
	}

	return &art, nil
}

// latestVersion returns the highest stored version for (sessionID, stage),
// or ErrNotFound when none exists.
func (s *Store) latestVersion(sessionID, stage string) (int, error) {
	entries, err := os.ReadDir(s.artifactsDir(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("list artifacts: %w", err)
	}

	var versions []int
	prefix := stage + ".v"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		v, convErr := strconv.Atoi(raw)
		if convErr != nil {
			continue
		}
		versions = append(versions, v)
	}

	if len(versions) == 0 {
		return 0, ErrNotFound
	}
	sort.Ints(versions)
	return versions[len(versions)-1], nil
}

// Checksum returns the hex-encoded SHA-256 digest of content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
