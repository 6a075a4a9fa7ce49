package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdesk/askdesk/internal/config"
	"github.com/askdesk/askdesk/internal/registry"
	"github.com/askdesk/askdesk/internal/server"
	"github.com/askdesk/askdesk/internal/stats"
	"github.com/askdesk/askdesk/internal/testutil"
	"github.com/askdesk/askdesk/internal/types"
)

func newTestApp(t *testing.T) (*AskDeskApp, *registry.Registry, *http.ServeMux) {
	t.Helper()

	logger := testutil.TestLogger(t)
	mux := http.NewServeMux()
	reg := registry.New()
	cs := server.NewChatServer(logger, reg, stats.NewNoopStats())
	app := NewAskDeskApp(mux, logger, cs, reg, &config.Config{ServerAddr: "localhost:0"})

	return app, reg, mux
}

func Test_createRoom(t *testing.T) {
	_, reg, mux := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)

	var room types.RoomSummary
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&room))
	assert.NotEmpty(t, room.RoomId, "expected a server-assigned room id")
	assert.Equal(t, types.NoMessagesPreview, room.Preview)

	_, ok := reg.Get(room.RoomId)
	assert.True(t, ok, "expected the room to be registered")
}

func Test_listRooms(t *testing.T) {
	_, reg, mux := newTestApp(t)

	reg.GetOrCreate("r2")
	reg.GetOrCreate("r1")
	reg.Append("r1", types.RoleAsker, "hello")

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var rooms []types.RoomSummary
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rooms))
	require.Len(t, rooms, 2)
	assert.Equal(t, "r1", rooms[0].RoomId, "expected a stable sort by room id")
	assert.Equal(t, "hello", rooms[0].Preview)
	assert.Equal(t, "r2", rooms[1].RoomId)
	assert.Equal(t, types.NoMessagesPreview, rooms[1].Preview)
}

func Test_healthz(t *testing.T) {
	_, _, mux := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func Test_serveWs_invalidRole(t *testing.T) {
	_, _, mux := newTestApp(t)

	tcases := []struct {
		name string
		url  string
	}{
		{name: "missing role", url: "/ws"},
		{name: "unknown role", url: "/ws?role=moderator"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code, "expected an undeclared role to be rejected")
		})
	}
}
