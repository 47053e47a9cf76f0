package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/brensch/zerosum/executor/convert"
)

const debugFilePrefix = "debug_"

// DBCache maintains a cached DuckDB connection that refreshes periodically.
type DBCache struct {
	roots       []string
	refreshRate time.Duration

	mu          sync.RWMutex
	db          *sql.DB
	lastRefresh time.Time

	// Cached games index for fast pagination
	gamesIndex []GameSummary
}

func NewDBCache(roots []string, refreshRate time.Duration) *DBCache {
	return &DBCache{
		roots:       roots,
		refreshRate: refreshRate,
	}
}

// Get returns the cached DB connection, refreshing if needed.
func (c *DBCache) Get() (*sql.DB, error) {
	c.mu.RLock()
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		db := c.db
		c.mu.RUnlock()
		return db, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		return c.db, nil
	}

	return c.refreshLocked()
}

// Refresh forces a refresh of the cached DB connection.
func (c *DBCache) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.refreshLocked()
	return err
}

func (c *DBCache) refreshLocked() (*sql.DB, error) {
	start := time.Now()

	newDB, err := openDuckDBWithGlobs(c.roots)
	if err != nil {
		return nil, err
	}

	if c.db != nil {
		_ = c.db.Close()
	}

	c.db = newDB
	c.lastRefresh = time.Now()
	c.gamesIndex = nil

	log.Debug().Dur("took", time.Since(start)).Msg("db cache refreshed")
	return c.db, nil
}

// GetGamesIndex returns the cached games index. It is rebuilt after every
// refresh of the connection.
func (c *DBCache) GetGamesIndex(ctx context.Context) ([]GameSummary, error) {
	c.mu.RLock()
	if c.gamesIndex != nil && c.db != nil {
		idx := c.gamesIndex
		c.mu.RUnlock()
		return idx, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gamesIndex != nil && c.db != nil {
		return c.gamesIndex, nil
	}
	if c.db == nil {
		if _, err := c.refreshLocked(); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	games, err := queryAllGames(ctx, c.db, c.roots)
	if err != nil {
		return nil, err
	}
	c.gamesIndex = games
	log.Debug().Int("games", len(games)).Dur("took", time.Since(start)).Msg("games index rebuilt")
	return c.gamesIndex, nil
}

func (c *DBCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}

const emptyTurnsView = `CREATE OR REPLACE VIEW turns AS
	SELECT * FROM (
		SELECT
			NULL::VARCHAR AS game_id,
			NULL::VARCHAR AS game,
			NULL::INTEGER AS turn,
			NULL::INTEGER AS player,
			NULL::INTEGER AS "rows",
			NULL::INTEGER AS cols,
			NULL::BLOB AS board,
			NULL::BLOB AS state,
			NULL::FLOAT[] AS policy_probs,
			NULL::INTEGER AS action,
			NULL::FLOAT AS value,
			NULL::INTEGER AS winner,
			NULL::VARCHAR AS source,
			NULL::BLOB AS root_json,
			NULL::VARCHAR AS filename
	) WHERE 1=0`

// openDuckDBWithGlobs creates an in-memory DuckDB with a turns view over
// every training parquet file under roots. Files still in tmp/ and debug
// game files are excluded.
func openDuckDBWithGlobs(roots []string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	// Ignore errors for compatibility across versions.
	_, _ = db.Exec("PRAGMA threads=4")

	globs := make([]string, 0, len(roots))
	inTmp := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" || !hasTrainingParquet(root) {
			continue
		}
		root = filepath.Clean(root)
		glob := filepath.Join(root, "**", "*.parquet")
		globs = append(globs, "'"+escapeSQLString(glob)+"'")
		inTmp = append(inTmp, tmpUnderRoot(root))
	}

	sqlText := emptyTurnsView
	if len(globs) > 0 {
		sqlText = `CREATE OR REPLACE VIEW turns AS
			SELECT * FROM read_parquet([` + strings.Join(globs, ",") + `], filename=true, union_by_name=true)
			WHERE NOT (` + strings.Join(inTmp, " OR ") + `)
			  AND NOT starts_with(parse_filename(filename), '` + debugFilePrefix + `')`
	}
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// tmpUnderRoot matches files in a tmp directory below root. Only the part of
// the path after root is checked, so roots that themselves live under a tmp
// directory keep their batches.
func tmpUnderRoot(root string) string {
	prefix := filepath.ToSlash(root)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	// substr is 1-indexed and counts characters; start on the slash ending root.
	start := utf8.RuneCountInString(prefix)
	return fmt.Sprintf("(starts_with(filename, '%s') AND contains(substr(filename, %d), '/tmp/'))", escapeSQLString(prefix), start)
}

var errFound = errors.New("found")

// hasTrainingParquet reports whether read_parquet would match at least one
// file under root; DuckDB fails the whole view on an empty glob.
func hasTrainingParquet(root string) bool {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "tmp" && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".parquet") && !strings.HasPrefix(d.Name(), debugFilePrefix) {
			return errFound
		}
		return nil
	})
	return errors.Is(err, errFound)
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func makeRelativeToRoots(filename string, roots []string) string {
	fn := strings.TrimSpace(filename)
	if fn == "" {
		return ""
	}
	best := fn
	bestLen := len(best)
	for _, r := range roots {
		root := strings.TrimSpace(r)
		if root == "" {
			continue
		}
		rel, err := filepath.Rel(root, fn)
		if err != nil {
			continue
		}
		// Ignore paths that escape the root.
		if strings.HasPrefix(rel, "..") {
			continue
		}
		cand := filepath.ToSlash(filepath.Join(root, rel))
		if len(cand) < bestLen {
			best = cand
			bestLen = len(cand)
		}
	}
	return best
}

func queryAllGames(ctx context.Context, db *sql.DB, roots []string) ([]GameSummary, error) {
	rows, err := db.QueryContext(ctx, `SELECT
			game_id,
			MIN(game)::VARCHAR,
			COALESCE(MIN(source), '')::VARCHAR,
			COUNT(*)::BIGINT,
			MIN(winner)::INTEGER,
			MIN(filename)::VARCHAR
		FROM turns
		GROUP BY game_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	games := make([]GameSummary, 0, 1024)
	for rows.Next() {
		var g GameSummary
		if err := rows.Scan(&g.GameID, &g.Game, &g.Source, &g.Moves, &g.Winner, &g.Filename); err != nil {
			return nil, err
		}
		g.Filename = makeRelativeToRoots(g.Filename, roots)
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return games, nil
}

func normalizeSort(sortKey string, sortDir string) (string, string) {
	sk := strings.ToLower(strings.TrimSpace(sortKey))
	sd := strings.ToLower(strings.TrimSpace(sortDir))
	if sd != "asc" && sd != "desc" {
		sd = "desc"
	}
	switch sk {
	case "id", "game_id":
		sk = "game_id"
	case "moves", "turns":
		sk = "moves"
	case "winner", "game", "source":
	case "file", "filename":
		sk = "file"
	default:
		sk = "file"
		sd = "desc"
	}
	return sk, sd
}

// paginateGames sorts a copy of the index and returns one page of it.
func paginateGames(games []GameSummary, limit, offset int, sortKey, sortDir string) ([]GameSummary, int64) {
	sk, sd := normalizeSort(sortKey, sortDir)
	sorted := make([]GameSummary, len(games))
	copy(sorted, games)

	less := func(a, b GameSummary) bool {
		switch sk {
		case "moves":
			if a.Moves != b.Moves {
				return a.Moves < b.Moves
			}
		case "winner":
			if a.Winner != b.Winner {
				return a.Winner < b.Winner
			}
		case "game":
			if a.Game != b.Game {
				return a.Game < b.Game
			}
		case "source":
			if a.Source != b.Source {
				return a.Source < b.Source
			}
		case "file":
			if a.Filename != b.Filename {
				return a.Filename < b.Filename
			}
		}
		return a.GameID < b.GameID
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sd == "asc" {
			return less(sorted[i], sorted[j])
		}
		return less(sorted[j], sorted[i])
	})

	total := int64(len(sorted))
	if offset >= len(sorted) {
		return []GameSummary{}, total
	}
	end := len(sorted)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return sorted[offset:end], total
}

func queryTurns(ctx context.Context, db *sql.DB, gameID string) ([]Turn, error) {
	rows, err := db.QueryContext(ctx, `SELECT
			game_id, game, turn::INTEGER, player::INTEGER, "rows"::INTEGER, cols::INTEGER,
			board, action::INTEGER, value::FLOAT, winner::INTEGER, policy_probs, root_json
		FROM turns
		WHERE game_id = ?
		ORDER BY turn ASC`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := make([]Turn, 0, 64)
	for rows.Next() {
		var t Turn
		var board []byte
		var probsAny any
		var rootJSON []byte
		if err := rows.Scan(&t.GameID, &t.Game, &t.Turn, &t.Player, &t.Rows, &t.Cols, &board, &t.Action, &t.Value, &t.Winner, &probsAny, &rootJSON); err != nil {
			return nil, err
		}
		t.Board = convert.BytesToBoard(board)
		t.PolicyProbs = asFloat32Slice(probsAny)
		if len(rootJSON) > 0 {
			t.Root = append([]byte(nil), rootJSON...)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, sql.ErrNoRows
	}
	return turns, nil
}

func querySummary(ctx context.Context, db *sql.DB) (SummaryResponse, error) {
	var resp SummaryResponse
	if err := db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT game_id)::BIGINT, COUNT(*)::BIGINT FROM turns`).Scan(&resp.Games, &resp.Rows); err != nil {
		return resp, err
	}

	rows, err := db.QueryContext(ctx, `SELECT game, winner::INTEGER, COUNT(*)::BIGINT, AVG(moves)::DOUBLE
		FROM (
			SELECT game_id, MIN(game) AS game, MIN(winner) AS winner, COUNT(*) AS moves
			FROM turns
			GROUP BY game_id
		)
		GROUP BY game, winner
		ORDER BY game ASC, winner DESC`)
	if err != nil {
		return resp, err
	}
	defer rows.Close()

	resp.Counts = make([]SummaryRow, 0, 8)
	for rows.Next() {
		var s SummaryRow
		if err := rows.Scan(&s.Game, &s.Winner, &s.Games, &s.AvgMoves); err != nil {
			return resp, err
		}
		resp.Counts = append(resp.Counts, s)
	}
	return resp, rows.Err()
}
