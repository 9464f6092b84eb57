package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgruss/karaoked/internal/appconfig"
	"github.com/dgruss/karaoked/internal/automation"
	"github.com/dgruss/karaoked/internal/control"
	"github.com/dgruss/karaoked/internal/playlist"
	"github.com/dgruss/karaoked/internal/room"
	"github.com/dgruss/karaoked/internal/roomhub"
	"github.com/dgruss/karaoked/internal/session"
	"github.com/dgruss/karaoked/internal/songindex"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, passphrase string) *Server {
	t.Helper()
	dir := t.TempDir()

	sessions := session.NewRegistry(16, 10*time.Second, nil, nil)
	rooms := room.New(room.FileCapacityStore{Path: filepath.Join(dir, "capacity.json")}, nil)
	hub := roomhub.New()
	lock := control.New(passphrase, &fakeControlSynth{})
	songs := songindex.New(dir, "mp3", filepath.Join(dir, "index.json"))
	pl := playlist.New(filepath.Join(dir, "playlist.txt"))
	auto := automation.New(&fakeControlSynth{}, fakeAutoOverlay{}, pl, func() []string { return nil }, zerolog.Nop())

	return New(appconfig.Config{GameDir: dir}, sessions, rooms, hub, nil, lock, songs, pl, auto, nil)
}

type fakeControlSynth struct{}

func (fakeControlSynth) Key(string) error  { return nil }
func (fakeControlSynth) Type(string) error { return nil }

type fakeAutoOverlay struct{}

func (fakeAutoOverlay) Show(ctx context.Context, seconds int) error { return nil }
func (fakeAutoOverlay) Stop() error                                 { return nil }

// doRequest issues req against srv's router, replaying any cookie
// jar from a prior response so the session persists across calls.
func doRequest(t *testing.T, srv *Server, req *http.Request, jar *[]*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	for _, c := range *jar {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	*jar = append(*jar, rec.Result().Cookies()...)
	return rec
}

func TestHandleStatusCreatesSessionCookie(t *testing.T) {
	srv := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)
}

func TestHandleRoomsJoinAndLeave(t *testing.T) {
	srv := newTestServer(t, "")
	var jar []*http.Cookie

	body, _ := json.Marshal(joinRequest{Room: room.Mic1, Name: "Ada"})
	req := httptest.NewRequest(http.MethodPost, "/rooms/join", bytes.NewReader(body))
	rec := doRequest(t, srv, req, &jar)
	require.Equal(t, http.StatusOK, rec.Code)

	var joinResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &joinResp))
	assert.Equal(t, "Ada", joinResp["name"])

	leaveReq := httptest.NewRequest(http.MethodPost, "/rooms/leave", bytes.NewReader([]byte(`{"name":"Ada"}`)))
	leaveRec := doRequest(t, srv, leaveReq, &jar)
	require.Equal(t, http.StatusOK, leaveRec.Code)

	rooms := srv.rooms.Snapshot()
	assert.Empty(t, rooms.Rooms[room.Mic1])
}

func TestHandleRoomsJoinRejectsWhenFull(t *testing.T) {
	srv := newTestServer(t, "")
	require.NoError(t, srv.rooms.SetCapacity(map[string]int{room.Mic1: 1}))

	var jar1 []*http.Cookie
	body1, _ := json.Marshal(joinRequest{Room: room.Mic1, Name: "Ada"})
	doRequest(t, srv, httptest.NewRequest(http.MethodPost, "/rooms/join", bytes.NewReader(body1)), &jar1)

	var jar2 []*http.Cookie
	body2, _ := json.Marshal(joinRequest{Room: room.Mic1, Name: "Bob"})
	rec := doRequest(t, srv, httptest.NewRequest(http.MethodPost, "/rooms/join", bytes.NewReader(body2)), &jar2)

	assert.Equal(t, http.StatusConflict, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "room_full", resp["error_code"])
}

func TestHandleControlAcquireRequiresAuthWhenPassphraseSet(t *testing.T) {
	srv := newTestServer(t, "secret")
	var jar []*http.Cookie

	acquireBody, _ := json.Marshal(acquireRequest{Name: "Ada"})
	rec := doRequest(t, srv, httptest.NewRequest(http.MethodPost, "/control/acquire", bytes.NewReader(acquireBody)), &jar)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	authBody, _ := json.Marshal(authRequest{Password: "secret"})
	authRec := doRequest(t, srv, httptest.NewRequest(http.MethodPost, "/control/auth", bytes.NewReader(authBody)), &jar)
	require.Equal(t, http.StatusOK, authRec.Code)

	rec2 := doRequest(t, srv, httptest.NewRequest(http.MethodPost, "/control/acquire", bytes.NewReader(acquireBody)), &jar)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestHandleControlAcquireConflictsBetweenSessions(t *testing.T) {
	srv := newTestServer(t, "")

	var jar1 []*http.Cookie
	body1, _ := json.Marshal(acquireRequest{Name: "Ada"})
	rec1 := doRequest(t, srv, httptest.NewRequest(http.MethodPost, "/control/acquire", bytes.NewReader(body1)), &jar1)
	require.Equal(t, http.StatusOK, rec1.Code)

	var jar2 []*http.Cookie
	body2, _ := json.Marshal(acquireRequest{Name: "Bob"})
	rec2 := doRequest(t, srv, httptest.NewRequest(http.MethodPost, "/control/acquire", bytes.NewReader(body2)), &jar2)
	assert.Equal(t, http.StatusConflict, rec2.Code)
}

func TestHandleCapacityPostRequiresControlOwnership(t *testing.T) {
	srv := newTestServer(t, "")
	var jar []*http.Cookie

	capBody, _ := json.Marshal(capacityRequest{Room: room.Mic1, Limit: 3})
	rec := doRequest(t, srv, httptest.NewRequest(http.MethodPost, "/rooms/capacity", bytes.NewReader(capBody)), &jar)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	acquireBody, _ := json.Marshal(acquireRequest{Name: "Ada"})
	doRequest(t, srv, httptest.NewRequest(http.MethodPost, "/control/acquire", bytes.NewReader(acquireBody)), &jar)

	rec2 := doRequest(t, srv, httptest.NewRequest(http.MethodPost, "/rooms/capacity", bytes.NewReader(capBody)), &jar)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestHandleWebRTCOfferDisabledInControlOnlyMode(t *testing.T) {
	srv := newTestServer(t, "")
	var jar []*http.Cookie

	form := "action=start_webrtc&offer=v%3D0"
	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewReader([]byte(form)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := doRequest(t, srv, req, &jar)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ingress_failed", resp["error_code"])
}

func TestHandlePlaylistToggleRequiresControlOwnership(t *testing.T) {
	srv := newTestServer(t, "")
	var jar []*http.Cookie

	body, _ := json.Marshal(playlistToggleRequest{Enabled: true, CountdownSeconds: 1})
	rec := doRequest(t, srv, httptest.NewRequest(http.MethodPost, "/playlist/toggle", bytes.NewReader(body)), &jar)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
