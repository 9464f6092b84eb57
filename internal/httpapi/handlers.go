package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgruss/karaoked/internal/errs"
	"github.com/dgruss/karaoked/internal/gameconfig"
)

type ctxKey string

const sessionIDKey ctxKey = "httpapi_session_id"

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard {success:false, error, error_code}
// envelope described in spec §7, with the status mapped from err's
// Code when it carries one.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errs.StatusFor(err), map[string]any{
		"success":    false,
		"error":      err.Error(),
		"error_code": string(errs.CodeFor(err)),
	})
}

// sessionMiddleware resolves the caller's session id from the signed
// cookie, if present and valid, and stashes it in the request context.
// It does not create a session: handlers create one lazily on first
// contact, per spec §3's Session lifecycle.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(sessionCookieName); err == nil {
			if id, ok := s.cookies.verify(c.Value); ok {
				r = r.WithContext(context.WithValue(r.Context(), sessionIDKey, id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func sessionIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(sessionIDKey).(int64)
	return id, ok
}

// ensureSession returns the caller's session id, allocating and
// cookie-stamping a new one on first contact, and always touches
// last_seen.
func (s *Server) ensureSession(w http.ResponseWriter, r *http.Request) int64 {
	id, ok := sessionIDFromContext(r.Context())
	if !ok {
		id = s.sessions.NewID()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    s.cookies.sign(id),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	s.sessions.Touch(id)
	return id
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.ensureSession(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(landingHTML))
}

const landingHTML = `<!DOCTYPE html>
<html>
<head><title>karaoked</title></head>
<body>
<h1>karaoked</h1>
<p>Join a mic room from your phone, or drive the game through the /control/ endpoints.</p>
</body>
</html>
`

func (s *Server) youBlock(sessionID int64) map[string]any {
	sess, _ := s.sessions.Get(sessionID)
	return map[string]any{
		"session_id": sessionID,
		"name":       sess.DisplayName,
		"room":       sess.CurrentRoom,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)
	snap := s.rooms.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms":    snap.Rooms,
		"capacity": snap.Capacity,
		"control":  s.lock.Status(id),
		"you":      s.youBlock(id),
	})
}

func (s *Server) handleRoomsGet(w http.ResponseWriter, r *http.Request) {
	s.ensureSession(w, r)
	snap := s.rooms.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"rooms": snap.Rooms, "capacity": snap.Capacity})
}

func (s *Server) handleRoomsStream(w http.ResponseWriter, r *http.Request) {
	s.ensureSession(w, r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errs.New(errs.InternalError, "streaming unsupported"))
		return
	}

	sub, err := s.hub.Subscribe(r.Context(), s.rooms.Snapshot())
	if err != nil {
		writeError(w, errs.Wrap(errs.InternalError, "subscribe", err))
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-sub.Events():
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

type joinRequest struct {
	Room  string `json:"room"`
	Name  string `json:"name"`
	Delay int    `json:"delay"`
}

func (s *Server) handleRoomsJoin(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidInput, "malformed body"))
		return
	}

	name := s.sessions.TruncateName(id, req.Name)
	s.sessions.SetDisplayName(id, name)
	if req.Delay > 0 {
		s.sessions.SetDelay(id, req.Delay)
	}

	sinkIndex, err := s.rooms.Join(r.Context(), req.Room, name)
	if err != nil {
		if e, ok := asErr(err); ok && e.Code == errs.RoomFull {
			snap := s.rooms.Snapshot()
			writeJSON(w, http.StatusConflict, map[string]any{
				"success":    false,
				"error":      e.Error(),
				"error_code": string(errs.RoomFull),
				"members":    snap.Rooms[req.Room],
				"capacity":   snap.Capacity[req.Room],
			})
			return
		}
		writeError(w, err)
		return
	}

	s.sessions.SetRoom(id, req.Room, sinkIndex)
	if s.ingress != nil && s.ingress.HasIngress(id) {
		if err := s.ingress.ConnectToSink(r.Context(), id, sinkIndex); err != nil {
			s.logger.Warn().Err(err).Int64("session_id", id).Msg("connect to sink after join failed")
		}
	}
	s.rewriteGameConfig(r.Context())

	snap := s.rooms.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"room": req.Room, "name": name,
		"rooms": snap.Rooms, "capacity": snap.Capacity,
	})
}

func asErr(err error) (*errs.Error, bool) {
	e, ok := err.(*errs.Error)
	return e, ok
}

type leaveRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRoomsLeave(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)

	var req leaveRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	name := req.Name
	if name == "" {
		sess, _ := s.sessions.Get(id)
		name = sess.DisplayName
	}
	s.rooms.Leave(r.Context(), name)
	s.sessions.SetRoom(id, "", 0)
	s.rewriteGameConfig(r.Context())

	snap := s.rooms.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"rooms": snap.Rooms, "capacity": snap.Capacity})
}

func (s *Server) handleCapacityGet(w http.ResponseWriter, r *http.Request) {
	s.ensureSession(w, r)
	snap := s.rooms.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"capacity": snap.Capacity})
}

type capacityRequest struct {
	Room     string         `json:"room"`
	Limit    int            `json:"limit"`
	Capacity map[string]int `json:"capacity"`
}

func (s *Server) handleCapacityPost(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)
	if err := s.lock.RequireOwnerFor(id); err != nil {
		writeError(w, err)
		return
	}

	var req capacityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidInput, "malformed body"))
		return
	}

	updates := req.Capacity
	if updates == nil {
		updates = map[string]int{}
	}
	if req.Room != "" {
		updates[req.Room] = req.Limit
	}
	if len(updates) == 0 {
		writeError(w, errs.New(errs.InvalidInput, "no capacity updates given"))
		return
	}

	if err := s.rooms.SetCapacity(updates); err != nil {
		writeError(w, errs.Wrap(errs.InternalError, "persist capacity", err))
		return
	}

	snap := s.rooms.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"capacity": snap.Capacity})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)

	if err := r.ParseForm(); err != nil {
		writeError(w, errs.New(errs.InvalidInput, "malformed form body"))
		return
	}
	action := r.FormValue("action")
	if action != "start_webrtc" {
		writeError(w, errs.New(errs.InvalidInput, "unsupported action"))
		return
	}
	offer := r.FormValue("offer")
	if strings.TrimSpace(offer) == "" {
		writeError(w, errs.New(errs.InvalidInput, "offer is required"))
		return
	}

	if s.ingress == nil {
		writeError(w, errs.New(errs.IngressFailed, "ingress is disabled (control-only mode)"))
		return
	}

	result, err := s.ingress.Start(r.Context(), id, offer)
	if err != nil {
		writeError(w, err)
		return
	}
	s.sessions.SetHasIngress(id, true)

	writeJSON(w, http.StatusOK, map[string]any{"answer": result.Answer, "player_id": id})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)

	if s.ingress != nil {
		s.ingress.Remove(r.Context(), id)
	}
	s.sessions.SetHasIngress(id, false)

	sess, _ := s.sessions.Get(id)
	if sess.DisplayName != "" {
		s.rooms.Leave(r.Context(), sess.DisplayName)
	}
	s.lock.ReleaseIfOwner(id)
	s.sessions.Remove(id)
	s.rewriteGameConfig(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type delayRequest struct {
	Delay int `json:"delay"`
}

func (s *Server) handlePlayerDelay(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)

	var req delayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidInput, "malformed body"))
		return
	}
	s.sessions.SetDelay(id, req.Delay)
	s.rewriteGameConfig(r.Context())

	sess, _ := s.sessions.Get(id)
	writeJSON(w, http.StatusOK, map[string]any{"delay": sess.DelayMS})
}

func (s *Server) handleControlStatus(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)
	status := s.lock.Status(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":             status.Owner,
		"owner_name":        status.OwnerName,
		"timestamp":         status.AcquiredAt,
		"password_required": status.PasswordRequired,
		"password_ok":       status.PasswordOK,
	})
}

type authRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleControlAuth(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)

	var req authRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.lock.Authenticate(id, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type acquireRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleControlAcquire(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)

	var req acquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidInput, "malformed body"))
		return
	}
	name := s.sessions.TruncateName(id, req.Name)

	status, err := s.lock.Acquire(id, name)
	if err != nil {
		writeJSON(w, errs.StatusFor(err), map[string]any{
			"success": false, "error": err.Error(), "error_code": string(errs.CodeFor(err)),
			"owner": status.Owner, "owner_name": status.OwnerName,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "owner": status.Owner, "owner_name": status.OwnerName})
}

func (s *Server) handleControlRelease(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)
	if err := s.lock.Release(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type keystrokeRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleControlKeystroke(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)

	var req keystrokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidInput, "malformed body"))
		return
	}
	if err := s.lock.Keystroke(id, req.Key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleControlText(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)

	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidInput, "malformed body"))
		return
	}
	if err := s.lock.TypeText(id, req.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSongsIndex(w http.ResponseWriter, r *http.Request) {
	s.ensureSession(w, r)
	writeJSON(w, http.StatusOK, s.songs.All())
}

func (s *Server) handleSongsSearch(w http.ResponseWriter, r *http.Request) {
	s.ensureSession(w, r)
	q := r.URL.Query().Get("q")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	writeJSON(w, http.StatusOK, map[string]any{"results": s.songs.Search(q, page, perPage)})
}

type addToPlaylistRequest struct {
	ID     int    `json:"id"`
	Action string `json:"action"`
}

func (s *Server) handleSongsAddToPlaylist(w http.ResponseWriter, r *http.Request) {
	s.ensureSession(w, r)

	var req addToPlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidInput, "malformed body"))
		return
	}

	entry, ok := s.songs.ByID(req.ID)
	if !ok {
		writeError(w, errs.New(errs.NotFound, "unknown song id"))
		return
	}
	label, err := s.songs.PlaylistLabel(req.ID)
	if err != nil {
		writeError(w, errs.Wrap(errs.InternalError, "derive playlist label", err))
		return
	}

	switch req.Action {
	case "remove":
		if _, err := s.playlist.RemoveMatching(label); err != nil {
			writeError(w, errs.Wrap(errs.InternalError, "rewrite playlist", err))
			return
		}
		s.songs.SetInPlaylist(entry.ID, false)
	default:
		if _, err := s.playlist.AppendUnique(label); err != nil {
			writeError(w, errs.Wrap(errs.InternalError, "rewrite playlist", err))
			return
		}
		s.songs.SetInPlaylist(entry.ID, true)
	}

	writeJSON(w, http.StatusOK, map[string]any{"upl": label, "line": label})
}

func (s *Server) handleSongsPreview(w http.ResponseWriter, r *http.Request) {
	s.ensureSession(w, r)

	idStr := r.URL.Query().Get("id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		writeError(w, errs.New(errs.InvalidInput, "id must be an integer"))
		return
	}
	entry, ok := s.songs.ByID(id)
	if !ok {
		writeError(w, errs.New(errs.NotFound, "unknown song id"))
		return
	}

	root := filepath.Join(s.cfg.GameDir, "songs")
	absRoot, err := filepath.Abs(root)
	if err != nil {
		writeError(w, errs.Wrap(errs.InternalError, "resolve songs root", err))
		return
	}
	absAudio, err := filepath.Abs(entry.AudioPath)
	if err != nil || !strings.HasPrefix(absAudio, absRoot+string(filepath.Separator)) {
		writeError(w, errs.New(errs.Forbidden, "path escapes songs root"))
		return
	}

	http.ServeFile(w, r, absAudio)
}

func (s *Server) handlePlaylistStatus(w http.ResponseWriter, r *http.Request) {
	s.ensureSession(w, r)
	writeJSON(w, http.StatusOK, s.automation.Status())
}

type playlistToggleRequest struct {
	Enabled          bool `json:"enabled"`
	CountdownSeconds int  `json:"countdown_seconds"`
}

func (s *Server) handlePlaylistToggle(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)
	if err := s.lock.RequireOwnerFor(id); err != nil {
		writeError(w, err)
		return
	}

	var req playlistToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidInput, "malformed body"))
		return
	}

	if err := s.automation.SetEnabled(r.Context(), req.Enabled, req.CountdownSeconds); err != nil {
		writeError(w, errs.Wrap(errs.AutomationError, "toggle playlist automation", err))
		return
	}
	writeJSON(w, http.StatusOK, s.automation.Status())
}

type playlistNextRequest struct {
	CountdownSeconds int `json:"countdown_seconds"`
}

func (s *Server) handlePlaylistNext(w http.ResponseWriter, r *http.Request) {
	id := s.ensureSession(w, r)
	if err := s.lock.RequireOwnerFor(id); err != nil {
		writeError(w, err)
		return
	}

	var req playlistNextRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	token, err := s.automation.Next(r.Context(), req.CountdownSeconds)
	if err != nil {
		writeError(w, errs.Wrap(errs.AutomationError, "advance playlist", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"countdown_token": token, "state": s.automation.Status()})
}

// rewriteGameConfig rebuilds the game's [Name]/[PlayerDelay]/[Game]
// config from the current room roster, per spec §4.11. Errors are
// logged, not surfaced, since this is a side-effecting best-effort
// sync triggered by unrelated request handlers.
func (s *Server) rewriteGameConfig(ctx context.Context) {
	if s.writeGameConfig == nil {
		return
	}
	snap := s.rooms.Snapshot()
	if err := s.writeGameConfig(gameconfig.RosterFrom(snap, s.sessions.MeanDelayByNames)); err != nil {
		s.logger.Warn().Err(err).Msg("rewrite game config failed")
	}
}
