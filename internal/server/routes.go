package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fenggwsx/SlashRelay/internal/metrics"
	"github.com/fenggwsx/SlashRelay/internal/relay"
	"github.com/fenggwsx/SlashRelay/internal/storage"
)

type roomView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Members   int        `json:"members"`
	Persisted bool       `json:"persisted"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type createRoomRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (a *App) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/rooms", a.handleListRooms)
	api.HandleFunc("POST /api/rooms", a.handleCreateRoom)
	api.HandleFunc("GET /api/rooms/{id}/messages", a.handleListMessages)
	api.HandleFunc("GET /api/connections", a.handleListConnections)
	api.HandleFunc("DELETE /api/connections/{id}", a.handleDisconnect)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler(a.registry))
	mux.Handle("GET /ws", a.wsHandler())

	// The admin API is only reachable cross-origin behind token checks.
	admin := a.requireToken(api)
	if a.cfg.JWT.Enabled() {
		admin = a.withCORS(admin)
	}

	root := http.NewServeMux()
	root.Handle("/api/", admin)
	root.Handle("/", a.withCORS(mux))
	return root
}

func (a *App) handleListRooms(w http.ResponseWriter, r *http.Request) {
	views := make(map[string]*roomView)
	for _, info := range a.manager.Directory().Rooms() {
		views[info.ID] = &roomView{ID: info.ID, Members: info.Members}
	}

	if a.store != nil {
		rooms, err := a.store.ListRooms(r.Context())
		if err != nil {
			a.log.Error("list rooms", "err", err)
			writeError(w, http.StatusInternalServerError, "list rooms failed")
			return
		}
		for _, room := range rooms {
			view, ok := views[room.ID]
			if !ok {
				view = &roomView{ID: room.ID}
				views[room.ID] = view
			}
			createdAt := room.CreatedAt
			view.Name = room.Name
			view.Persisted = true
			view.CreatedAt = &createdAt
		}
	}

	out := make([]roomView, 0, len(views))
	for _, view := range views {
		out = append(out, *view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotImplemented, "storage disabled")
		return
	}
	var req createRoomRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.Name == "" {
		req.Name = req.ID
	}

	room := &storage.Room{ID: req.ID, Name: req.Name, CreatedAt: time.Now().UTC()}
	if err := a.store.CreateRoom(r.Context(), room); err != nil {
		if errors.Is(err, storage.ErrRoomExists) {
			writeError(w, http.StatusConflict, "room exists")
			return
		}
		a.log.Error("create room", "room", req.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "create room failed")
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (a *App) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotImplemented, "storage disabled")
		return
	}
	roomID := strings.TrimSpace(r.PathValue("id"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	messages, err := a.store.ListMessages(r.Context(), roomID, limit)
	if err != nil {
		a.log.Error("list messages", "room", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, "list messages failed")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (a *App) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Registry().Snapshot())
}

func (a *App) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := a.manager.Registry().Disconnect(id); err != nil {
		if errors.Is(err, relay.ErrUnknownConnection) {
			writeError(w, http.StatusNotFound, "unknown connection")
			return
		}
		a.log.Warn("disconnect", "conn", id, "err", err)
	}
	a.log.Info("connection disconnected by admin", "conn", id, "by", subjectFrom(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
