package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
)

// FileStore keeps the whole catalog in memory and rewrites one JSON
// document on every mutation. Adequate for the expected scale; the
// document doubles as the on-disk interchange format (database.json).
type FileStore struct {
	path string

	mu    sync.Mutex
	users []*User
	games []*Game
}

type fileDocument struct {
	Users []*User `json:"users"`
	Games []*Game `json:"games"`
}

// NewFileStore loads the catalog from path. A missing file starts an
// empty catalog; a corrupted file is discarded with a warning. Missing
// top-level collections are initialized empty.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("catalog file corrupted, starting empty", "path", path, "error", err)
		return s, nil
	}
	s.users = doc.Users
	s.games = doc.Games
	return s, nil
}

// save rewrites the backing file. Called with mu held; mutations are
// not visible to callers until the flush returns.
func (s *FileStore) save() error {
	doc := fileDocument{Users: s.users, Games: s.games}
	if doc.Users == nil {
		doc.Users = []*User{}
	}
	if doc.Games == nil {
		doc.Games = []*Game{}
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing catalog %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) findUser(username string) *User {
	for _, u := range s.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

func (s *FileStore) findGame(name string) *Game {
	for _, g := range s.games {
		if g.Name == name {
			return g
		}
	}
	return nil
}

func (s *FileStore) RegisterUser(_ context.Context, username, password, role string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findUser(username) != nil {
		return false, nil
	}
	s.users = append(s.users, &User{Username: username, Password: password, Role: role})
	if err := s.save(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) LoginUser(_ context.Context, username, password string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.findUser(username)
	if u == nil || u.Password != password {
		return "", false, nil
	}
	return u.Role, true, nil
}

func (s *FileStore) Games(_ context.Context) ([]GameView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]GameView, 0, len(s.games))
	for _, g := range s.games {
		views = append(views, g.View())
	}
	return views, nil
}

func (s *FileStore) GameFilename(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g := s.findGame(name); g != nil {
		return g.Filename, nil
	}
	return "", nil
}

func (s *FileStore) GameOwner(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g := s.findGame(name); g != nil {
		return g.Dev, nil
	}
	return "", nil
}

func (s *FileStore) GameMaxPlayers(_ context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g := s.findGame(name); g != nil {
		return g.MaxPlayers, nil
	}
	return DefaultMaxPlayers, nil
}

func (s *FileStore) UpsertGame(_ context.Context, dev, name, description, filename, version, gameType string, maxPlayers int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.games {
		if g.Name == name && g.Dev == dev {
			g.Description = description
			g.Filename = filename
			g.Version = version
			g.GameType = gameType
			g.MaxPlayers = maxPlayers
			return s.save()
		}
	}

	s.games = append(s.games, &Game{
		Name:         name,
		Dev:          dev,
		Description:  description,
		Filename:     filename,
		Version:      version,
		GameType:     gameType,
		MaxPlayers:   maxPlayers,
		DownloadedBy: []string{},
	})
	return s.save()
}

func (s *FileStore) DeleteGame(_ context.Context, dev, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, g := range s.games {
		if g.Name == name && g.Dev == dev {
			filename := g.Filename
			s.games = slices.Delete(s.games, i, i+1)
			if err := s.save(); err != nil {
				return "", err
			}
			return filename, nil
		}
	}
	return "", nil
}

func (s *FileStore) RecordDownload(_ context.Context, game, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.findGame(game)
	if g == nil {
		return nil
	}
	if slices.Contains(g.DownloadedBy, user) {
		return nil
	}
	g.DownloadedBy = append(g.DownloadedBy, user)
	return s.save()
}

func (s *FileStore) RecordPlayHistory(_ context.Context, user, game string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.findUser(user)
	if u == nil {
		return nil
	}
	if slices.Contains(u.PlayHistory, game) {
		return nil
	}
	u.PlayHistory = append(u.PlayHistory, game)
	return s.save()
}

func (s *FileStore) HasPlayed(_ context.Context, user, game string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.findUser(user)
	if u == nil {
		return false, nil
	}
	return slices.Contains(u.PlayHistory, game), nil
}

func (s *FileStore) AddComment(_ context.Context, game, user string, score int, content string) (CommentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.findGame(game)
	if g == nil {
		return CommentGameMissing, nil
	}
	for _, c := range g.Comments {
		if c.User == user {
			return CommentDuplicate, nil
		}
	}
	g.Comments = append(g.Comments, Comment{User: user, Score: score, Content: content})
	if err := s.save(); err != nil {
		return CommentGameMissing, err
	}
	return CommentAdded, nil
}
