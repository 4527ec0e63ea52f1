package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx connection pool. Row-level
// uniqueness constraints carry the set semantics the file store keeps
// in memory.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) RegisterUser(ctx context.Context, username, password, role string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO users (username, password, role) VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO NOTHING`,
		username, password, role,
	)
	if err != nil {
		return false, fmt.Errorf("registering user %q: %w", username, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) LoginUser(ctx context.Context, username, password string) (string, bool, error) {
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM users WHERE username = $1 AND password = $2`,
		username, password,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying user %q: %w", username, err)
	}
	return role, true, nil
}

func (s *PostgresStore) Games(ctx context.Context) ([]GameView, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT g.name, g.dev, g.description, g.filename, g.version, g.game_type, g.max_players,
		        COALESCE(AVG(c.score), 0),
		        COUNT(c.username),
		        (SELECT COUNT(*) FROM downloads d WHERE d.game = g.name)
		 FROM games g
		 LEFT JOIN comments c ON c.game = g.name
		 GROUP BY g.name
		 ORDER BY g.name`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying games: %w", err)
	}
	defer rows.Close()

	var views []GameView
	for rows.Next() {
		var v GameView
		if err := rows.Scan(&v.Name, &v.Dev, &v.Description, &v.Filename, &v.Version,
			&v.GameType, &v.MaxPlayers, &v.AvgRating, &v.CommentCount, &v.Downloads); err != nil {
			return nil, fmt.Errorf("scanning game row: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating games: %w", err)
	}

	for i := range views {
		comments, err := s.gameComments(ctx, views[i].Name)
		if err != nil {
			return nil, err
		}
		views[i].Comments = comments
	}
	return views, nil
}

func (s *PostgresStore) gameComments(ctx context.Context, game string) ([]Comment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username, score, content FROM comments WHERE game = $1 ORDER BY username`, game,
	)
	if err != nil {
		return nil, fmt.Errorf("querying comments for %q: %w", game, err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.User, &c.Score, &c.Content); err != nil {
			return nil, fmt.Errorf("scanning comment row: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *PostgresStore) gameColumn(ctx context.Context, query, name string, dest any) (bool, error) {
	err := s.pool.QueryRow(ctx, query, name).Scan(dest)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying game %q: %w", name, err)
	}
	return true, nil
}

func (s *PostgresStore) GameFilename(ctx context.Context, name string) (string, error) {
	var filename string
	if _, err := s.gameColumn(ctx, `SELECT filename FROM games WHERE name = $1`, name, &filename); err != nil {
		return "", err
	}
	return filename, nil
}

func (s *PostgresStore) GameOwner(ctx context.Context, name string) (string, error) {
	var dev string
	if _, err := s.gameColumn(ctx, `SELECT dev FROM games WHERE name = $1`, name, &dev); err != nil {
		return "", err
	}
	return dev, nil
}

func (s *PostgresStore) GameMaxPlayers(ctx context.Context, name string) (int, error) {
	var maxPlayers int
	found, err := s.gameColumn(ctx, `SELECT max_players FROM games WHERE name = $1`, name, &maxPlayers)
	if err != nil {
		return 0, err
	}
	if !found {
		return DefaultMaxPlayers, nil
	}
	return maxPlayers, nil
}

func (s *PostgresStore) UpsertGame(ctx context.Context, dev, name, description, filename, version, gameType string, maxPlayers int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO games (name, dev, description, filename, version, game_type, max_players)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name) DO UPDATE
		 SET description = $3, filename = $4, version = $5, game_type = $6, max_players = $7
		 WHERE games.dev = $2`,
		name, dev, description, filename, version, gameType, maxPlayers,
	)
	if err != nil {
		return fmt.Errorf("upserting game %q: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) DeleteGame(ctx context.Context, dev, name string) (string, error) {
	var filename string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM games WHERE name = $1 AND dev = $2 RETURNING filename`,
		name, dev,
	).Scan(&filename)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("deleting game %q: %w", name, err)
	}
	return filename, nil
}

func (s *PostgresStore) RecordDownload(ctx context.Context, game, user string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO downloads (game, username)
		 SELECT $1, $2 WHERE EXISTS (SELECT 1 FROM games WHERE name = $1)
		 ON CONFLICT DO NOTHING`,
		game, user,
	)
	if err != nil {
		return fmt.Errorf("recording download of %q by %q: %w", game, user, err)
	}
	return nil
}

func (s *PostgresStore) RecordPlayHistory(ctx context.Context, user, game string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO play_history (username, game)
		 SELECT $1, $2 WHERE EXISTS (SELECT 1 FROM users WHERE username = $1)
		 ON CONFLICT DO NOTHING`,
		user, game,
	)
	if err != nil {
		return fmt.Errorf("recording play history of %q for %q: %w", game, user, err)
	}
	return nil
}

func (s *PostgresStore) HasPlayed(ctx context.Context, user, game string) (bool, error) {
	var played bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM play_history WHERE username = $1 AND game = $2)`,
		user, game,
	).Scan(&played)
	if err != nil {
		return false, fmt.Errorf("querying play history for %q: %w", user, err)
	}
	return played, nil
}

func (s *PostgresStore) AddComment(ctx context.Context, game, user string, score int, content string) (CommentResult, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM games WHERE name = $1)`, game,
	).Scan(&exists); err != nil {
		return CommentGameMissing, fmt.Errorf("querying game %q: %w", game, err)
	}
	if !exists {
		return CommentGameMissing, nil
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO comments (game, username, score, content) VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`,
		game, user, score, content,
	)
	if err != nil {
		return CommentGameMissing, fmt.Errorf("adding comment on %q by %q: %w", game, user, err)
	}
	if tag.RowsAffected() == 0 {
		return CommentDuplicate, nil
	}
	return CommentAdded, nil
}
