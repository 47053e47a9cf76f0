package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const maxSearchBody = 1 << 20

type Server struct {
	dbCache  *DBCache
	debugDir string
	searcher *Searcher
	upgrader websocket.Upgrader
}

func NewServer(roots []string, debugDir string, searcher *Searcher) *Server {
	return &Server{
		dbCache:  NewDBCache(roots, 30*time.Second),
		debugDir: debugDir,
		searcher: searcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Close() error {
	return errors.Join(s.dbCache.Close(), s.searcher.Close())
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/ws", s.handleWS)
	mux.HandleFunc("/api/games", s.handleGames)
	mux.HandleFunc("/api/games/", s.handleGameTurns)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/debug_games", s.handleDebugGamesList)
	mux.HandleFunc("/api/debug_games/", s.handleDebugGame)
}

func searchStatus(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSearchBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	resp, err := s.searcher.Search(r.Context(), req)
	if err != nil {
		status := searchStatus(err)
		if status != http.StatusBadRequest {
			log.Error().Err(err).Str("game", req.Game).Msg("search failed")
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, resp)
}

// handleWS serves searches over one websocket: every text message is a
// SearchRequest and gets either a SearchResponse or an ErrorResponse back,
// in order.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxSearchBody)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var reply any
		var req SearchRequest
		if err := json.Unmarshal(data, &req); err != nil {
			reply = ErrorResponse{Error: fmt.Sprintf("decode request: %v", err)}
		} else if resp, err := s.searcher.Search(r.Context(), req); err != nil {
			reply = ErrorResponse{Error: err.Error()}
		} else {
			reply = resp
		}

		if err := conn.WriteJSON(reply); err != nil {
			log.Debug().Err(err).Msg("websocket write")
			return
		}
	}
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	// Pick up batches written since the last request.
	if err := s.dbCache.Refresh(); err != nil {
		http.Error(w, fmt.Sprintf("failed to refresh db: %v", err), http.StatusInternalServerError)
		return
	}
	gamesIndex, err := s.dbCache.GetGamesIndex(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	limit := parseIntQuery(r, "limit", 1000)
	offset := parseIntQuery(r, "offset", 0)
	games, total := paginateGames(gamesIndex, limit, offset, r.URL.Query().Get("sort"), r.URL.Query().Get("dir"))
	writeJSON(w, GamesResponse{Total: total, Games: games})
}

func (s *Server) handleGameTurns(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	// /api/games/{id}
	rest := strings.TrimPrefix(r.URL.Path, "/api/games/")
	if rest == "" || strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}
	gameID, err := url.PathUnescape(rest)
	if err != nil {
		http.Error(w, "bad game id", http.StatusBadRequest)
		return
	}

	db, err := s.dbCache.Get()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	turns, err := queryTurns(r.Context(), db, gameID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, turns)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if err := s.dbCache.Refresh(); err != nil {
		http.Error(w, fmt.Sprintf("failed to refresh db: %v", err), http.StatusInternalServerError)
		return
	}
	db, err := s.dbCache.Get()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	summary, err := querySummary(r.Context(), db)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}

func (s *Server) handleDebugGamesList(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	games, err := listDebugGames(s.debugDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, games)
}

func (s *Server) handleDebugGame(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	gameID, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/debug_games/"))
	if err != nil || gameID == "" || strings.ContainsAny(gameID, `/\`) {
		http.Error(w, "bad game id", http.StatusBadRequest)
		return
	}
	game, err := loadDebugGame(s.debugDir, gameID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, game)
}
