package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"QShareFM/config"
	"QShareFM/core/player"
	"QShareFM/core/plugin"
	"QShareFM/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RestServer REST + WebSocket 接入层
// 同时作为插件注册进播放器，把播放事件广播给所有听众连接
type RestServer struct {
	cfg      *config.Config
	p        *player.Player
	hub      *Hub
	voteskip *plugin.VoteSkipPlugin
	history  *plugin.HistoryPlugin

	httpServer *http.Server
}

// NewRestServer 创建接入层
// voteskip 和 history 可以为 nil，相应端点返回 404
func NewRestServer(cfg *config.Config, p *player.Player, voteskip *plugin.VoteSkipPlugin, history *plugin.HistoryPlugin) *RestServer {
	return &RestServer{
		cfg:      cfg,
		p:        p,
		hub:      NewHub(),
		voteskip: voteskip,
		history:  history,
	}
}

// Name 插件名称
func (s *RestServer) Name() string {
	return "rest"
}

// Hub 听众连接中枢
func (s *RestServer) Hub() *Hub {
	return s.hub
}

// Hooks 把播放事件转成 WebSocket 广播
func (s *RestServer) Hooks() map[player.Hook]player.HookFunc {
	return map[player.Hook]player.HookFunc{
		player.HookOnReady: func(args ...interface{}) error {
			s.hub.Broadcast(MsgTypePlayerReady, nil)
			return nil
		},
		player.HookOnSongChange: func(args ...interface{}) error {
			if song, ok := args[0].(*player.Song); ok {
				s.hub.Broadcast(MsgTypeSongChange, songView(song))
			}
			return nil
		},
		player.HookOnSongEnd: func(args ...interface{}) error {
			if song, ok := args[0].(*player.Song); ok {
				s.hub.Broadcast(MsgTypeSongEnd, songView(song))
			}
			return nil
		},
		player.HookOnSongPrepared: func(args ...interface{}) error {
			if song, ok := args[0].(*player.Song); ok {
				s.hub.Broadcast(MsgTypeSongPrepared, songView(song))
			}
			return nil
		},
		player.HookOnSongPrepareError: func(args ...interface{}) error {
			song, _ := args[0].(*player.Song)
			prepErr, _ := args[1].(error)
			payload := map[string]interface{}{"song": songView(song)}
			if prepErr != nil {
				payload["error"] = prepErr.Error()
			}
			s.hub.Broadcast(MsgTypePrepareError, payload)
			return nil
		},
		player.HookOnQueueModify: func(args ...interface{}) error {
			s.hub.Broadcast(MsgTypeQueueUpdate, s.queueView())
			return nil
		},
		player.HookOnVolumeChange: func(args ...interface{}) error {
			payload := map[string]interface{}{}
			if volume, ok := args[0].(float64); ok {
				payload["volume"] = volume
			}
			if actor, ok := args[1].(string); ok {
				payload["actorId"] = actor
			}
			s.hub.Broadcast(MsgTypeVolumeChange, payload)
			return nil
		},
	}
}

// ========== 视图 ==========

type songViewData struct {
	UUID       string `json:"uuid"`
	SongID     string `json:"songId"`
	Backend    string `json:"backend"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Prepared   bool   `json:"prepared"`
}

func songView(song *player.Song) *songViewData {
	if song == nil {
		return nil
	}
	return &songViewData{
		UUID:       song.UUID,
		SongID:     song.ID,
		Backend:    song.BackendName(),
		Title:      song.Title,
		Artist:     song.Artist,
		Album:      song.Album,
		DurationMs: song.Duration.Milliseconds(),
		Prepared:   song.IsPrepared(),
	}
}

func (s *RestServer) queueView() map[string]interface{} {
	songs := s.p.QueueSongs()
	views := make([]*songViewData, 0, len(songs))
	for _, song := range songs {
		views = append(views, songView(song))
	}

	view := map[string]interface{}{
		"songs":   views,
		"playing": s.p.IsPlaying(),
		"repeat":  s.p.Repeat(),
		"volume":  s.p.Volume(),
	}
	if np := s.p.NowPlaying(); np != nil {
		view["nowPlaying"] = np.UUID
	}
	return view
}

// ========== HTTP ==========

// Start 启动 HTTP 服务并阻塞到 ctx 取消
func (s *RestServer) Start(ctx context.Context) error {
	go s.hub.Run()

	router := mux.NewRouter()

	// CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/api/queue", s.handleGetQueue).Methods(http.MethodGet)
	router.HandleFunc("/api/queue", s.handleAddSong).Methods(http.MethodPost)
	router.HandleFunc("/api/queue/{uuid}", s.handleRemoveSong).Methods(http.MethodDelete)

	router.HandleFunc("/api/playback/start", s.handleStartPlayback).Methods(http.MethodPost)
	router.HandleFunc("/api/playback/stop", s.handleStopPlayback).Methods(http.MethodPost)
	router.HandleFunc("/api/playback/next", s.handleNextSong).Methods(http.MethodPost)
	router.HandleFunc("/api/song/{uuid}", s.handleChangeSong).Methods(http.MethodPost)

	router.HandleFunc("/api/search", s.handleSearch).Methods(http.MethodGet)
	router.HandleFunc("/api/playlists", s.handlePlaylists).Methods(http.MethodGet)
	router.HandleFunc("/api/volume", s.handleSetVolume).Methods(http.MethodPost)
	router.HandleFunc("/api/vote/skip", s.handleVoteSkip).Methods(http.MethodPost)
	router.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)

	router.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:         ":" + s.cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务启动", logger.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ========== 处理器 ==========

func (s *RestServer) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queueView())
}

type addSongRequest struct {
	Backend    string `json:"backend"`
	SongID     string `json:"songId"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	DurationMs int64  `json:"durationMs"`
	ActorID    string `json:"actorId"`
}

func (s *RestServer) handleAddSong(w http.ResponseWriter, r *http.Request) {
	var req addSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	backend := s.p.GetBackend(req.Backend)
	if backend == nil {
		writeError(w, http.StatusBadRequest, errors.New("unknown backend: "+req.Backend))
		return
	}

	song := player.NewSong(backend, req.SongID, req.Title, req.Artist, req.Album,
		time.Duration(req.DurationMs)*time.Millisecond)
	if err := s.p.AddSong(song, req.ActorID); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, songView(song))
}

func (s *RestServer) handleRemoveSong(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	if err := s.p.RemoveSong(uuid); err != nil {
		if errors.Is(err, player.ErrSongNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.queueView())
}

type startPlaybackRequest struct {
	PositionMs int64 `json:"positionMs"`
}

func (s *RestServer) handleStartPlayback(w http.ResponseWriter, r *http.Request) {
	var req startPlaybackRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	err := s.p.StartPlayback(time.Duration(req.PositionMs) * time.Millisecond)
	if err != nil {
		if errors.Is(err, player.ErrQueueEmpty) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.queueView())
}

type stopPlaybackRequest struct {
	Pause bool `json:"pause"`
}

func (s *RestServer) handleStopPlayback(w http.ResponseWriter, r *http.Request) {
	var req stopPlaybackRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	s.p.StopPlayback(req.Pause)
	writeJSON(w, http.StatusOK, s.queueView())
}

func (s *RestServer) handleNextSong(w http.ResponseWriter, r *http.Request) {
	s.p.SongEnd()
	writeJSON(w, http.StatusOK, s.queueView())
}

func (s *RestServer) handleChangeSong(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	if err := s.p.ChangeSong(uuid); err != nil {
		if errors.Is(err, player.ErrSongNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if errors.Is(err, player.ErrQueueEmpty) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.queueView())
}

func (s *RestServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, errors.New("query parameter q is required"))
		return
	}

	results := s.p.SearchBackends(r.Context(), query)

	view := make(map[string][]*songViewData, len(results))
	for backend, songs := range results {
		views := make([]*songViewData, 0, len(songs))
		for _, song := range songs {
			views = append(views, songView(song))
		}
		view[backend] = views
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *RestServer) handlePlaylists(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.p.GetPlaylists(r.Context()))
}

type setVolumeRequest struct {
	Volume  float64 `json:"volume"`
	ActorID string  `json:"actorId"`
}

func (s *RestServer) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var req setVolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.p.SetVolume(req.Volume, req.ActorID)
	writeJSON(w, http.StatusOK, map[string]float64{"volume": s.p.Volume()})
}

type voteSkipRequest struct {
	UserID string `json:"userId"`
}

func (s *RestServer) handleVoteSkip(w http.ResponseWriter, r *http.Request) {
	if s.voteskip == nil {
		http.NotFound(w, r)
		return
	}

	var req voteSkipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, errors.New("userId is required"))
		return
	}

	votes, required, err := s.voteskip.Vote(req.UserID)
	if err != nil && !errors.Is(err, plugin.ErrAlreadyVoted) {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"votes":        votes,
		"required":     required,
		"alreadyVoted": errors.Is(err, plugin.ErrAlreadyVoted),
	})
}

func (s *RestServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.history.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *RestServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket 升级失败", logger.ErrorField(err))
		return
	}

	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, 32)}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
