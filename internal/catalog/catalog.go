// Package catalog is the persistent store of users, games, comments and
// download/play history. Two implementations exist: a JSON file store
// (the default, one document rewritten on every mutation) and a
// PostgreSQL store. Both honor the same contract: operations are total,
// serialized internally, and report domain outcomes as values.
package catalog

import "context"

// User roles.
const (
	RolePlayer    = "player"
	RoleDeveloper = "developer"
)

// DefaultMaxPlayers is returned for games absent from the catalog.
const DefaultMaxPlayers = 2

// User is a registered account. Immutable once created except for
// PlayHistory.
type User struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Role        string   `json:"role"`
	PlayHistory []string `json:"play_history,omitempty"`
}

// Comment is one rating left by a user on a game. At most one per
// (user, game).
type Comment struct {
	User    string `json:"user"`
	Score   int    `json:"score"`
	Content string `json:"content"`
}

// Game is a developer-owned catalog entry addressing one artifact file.
type Game struct {
	Name         string    `json:"name"`
	Dev          string    `json:"dev"`
	Description  string    `json:"description"`
	Filename     string    `json:"filename"`
	Version      string    `json:"version"`
	GameType     string    `json:"game_type"`
	MaxPlayers   int       `json:"max_players"`
	DownloadedBy []string  `json:"downloaded_by"`
	Comments     []Comment `json:"comments,omitempty"`
}

// GameView is the listing form of a Game: derived fields computed at
// read time, downloaded_by scrubbed.
type GameView struct {
	Name         string    `json:"name"`
	Dev          string    `json:"dev"`
	Description  string    `json:"description"`
	Filename     string    `json:"filename"`
	Version      string    `json:"version"`
	GameType     string    `json:"game_type"`
	MaxPlayers   int       `json:"max_players"`
	AvgRating    float64   `json:"avg_rating"`
	CommentCount int       `json:"comment_count"`
	Downloads    int       `json:"downloads"`
	Comments     []Comment `json:"comments,omitempty"`
}

// CommentResult is the outcome of AddComment.
type CommentResult int

const (
	CommentAdded CommentResult = iota
	CommentDuplicate
	CommentGameMissing
)

// Store is the catalog contract. Implementations serialize all
// operations internally so callers may invoke them from any goroutine.
type Store interface {
	// RegisterUser creates a user. Returns false if the username is taken.
	RegisterUser(ctx context.Context, username, password, role string) (bool, error)

	// LoginUser checks credentials. On success returns the user's role.
	LoginUser(ctx context.Context, username, password string) (string, bool, error)

	// Games returns the listing view of every game.
	Games(ctx context.Context) ([]GameView, error)

	// GameFilename returns the artifact basename, or "" if unknown.
	GameFilename(ctx context.Context, name string) (string, error)

	// GameOwner returns the owning developer, or "" if unknown.
	GameOwner(ctx context.Context, name string) (string, error)

	// GameMaxPlayers returns the player limit, or DefaultMaxPlayers if
	// the game is unknown.
	GameMaxPlayers(ctx context.Context, name string) (int, error)

	// UpsertGame inserts or updates a game keyed by (name, dev).
	// Ownership must have been validated by the caller for updates.
	UpsertGame(ctx context.Context, dev, name, description, filename, version, gameType string, maxPlayers int) error

	// DeleteGame removes the game only if owned by dev. Returns the
	// artifact filename for disk cleanup, or "" if nothing was removed.
	DeleteGame(ctx context.Context, dev, name string) (string, error)

	// RecordDownload adds user to the game's downloaded_by set.
	// Idempotent.
	RecordDownload(ctx context.Context, game, user string) error

	// RecordPlayHistory adds game to the user's play history. Idempotent.
	RecordPlayHistory(ctx context.Context, user, game string) error

	// HasPlayed reports whether game is in the user's play history.
	HasPlayed(ctx context.Context, user, game string) (bool, error)

	// AddComment records one rating. Refused if the user already
	// commented on the game or the game is missing.
	AddComment(ctx context.Context, game, user string, score int, content string) (CommentResult, error)
}

// AverageRating is the mean of comment scores, or 0 with no comments.
func AverageRating(comments []Comment) float64 {
	if len(comments) == 0 {
		return 0
	}
	sum := 0
	for _, c := range comments {
		sum += c.Score
	}
	return float64(sum) / float64(len(comments))
}

// View computes the derived listing fields for a game.
func (g *Game) View() GameView {
	return GameView{
		Name:         g.Name,
		Dev:          g.Dev,
		Description:  g.Description,
		Filename:     g.Filename,
		Version:      g.Version,
		GameType:     g.GameType,
		MaxPlayers:   g.MaxPlayers,
		AvgRating:    AverageRating(g.Comments),
		CommentCount: len(g.Comments),
		Downloads:    len(g.DownloadedBy),
		Comments:     g.Comments,
	}
}
