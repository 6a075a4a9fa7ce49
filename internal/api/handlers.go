package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"

	"github.com/askdesk/askdesk/internal/registry"
	"github.com/askdesk/askdesk/internal/server"
	"github.com/askdesk/askdesk/internal/types"
)

func (s *AskDeskApp) writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Println("writeJson:", err)
	}
}

// createRoom allocates a server-assigned room id. Rooms can also be
// created implicitly by joining an unknown id over the websocket; this
// endpoint exists for askers that want the id before connecting.
func (s *AskDeskApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var room *registry.Room
	// regenerate on the rare shortid collision with a live or deleted room
	for range 5 {
		sid, err := shortid.Generate()
		if err != nil {
			s.log.Print("shortid.Generate:", err)
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		created, res := s.registry.GetOrCreate(sid)
		if res == registry.ResultCreated {
			room = created
			break
		}
	}

	if room == nil {
		errResp := NewInternalServerError(nil)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.cs.Directory().Upsert(room.Id(), room.Preview())

	s.writeJson(w, http.StatusCreated, types.RoomSummary{
		RoomId:  room.Id(),
		Preview: room.Preview(),
	})
}

// listRooms serves the directory snapshot over plain HTTP.
func (s *AskDeskApp) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.registry.List()
	slices.SortFunc(rooms, func(a, b types.RoomSummary) int {
		switch {
		case a.RoomId < b.RoomId:
			return -1
		case a.RoomId > b.RoomId:
			return 1
		}
		return 0
	})

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *AskDeskApp) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *AskDeskApp) serveWs(w http.ResponseWriter, r *http.Request) {
	role := types.Role(r.URL.Query().Get("role"))
	if !role.Valid() {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(uuid.NewString(), role, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
