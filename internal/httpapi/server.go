// Package httpapi assembles the HTTP surface described in spec §6: a
// chi router wiring the session/room/ingress/control/song/playlist
// subsystems together behind JSON and SSE endpoints. Grounded on
// xg2g/internal/api/middleware's stack.go (Recoverer, RequestID, CORS,
// rate limiting layered in a fixed order) and xg2g/internal/control's
// httprate-based RateLimit.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dgruss/karaoked/internal/appconfig"
	"github.com/dgruss/karaoked/internal/automation"
	"github.com/dgruss/karaoked/internal/control"
	"github.com/dgruss/karaoked/internal/corelog"
	"github.com/dgruss/karaoked/internal/gameconfig"
	"github.com/dgruss/karaoked/internal/ingress"
	"github.com/dgruss/karaoked/internal/room"
	"github.com/dgruss/karaoked/internal/roomhub"
	"github.com/dgruss/karaoked/internal/session"
	"github.com/dgruss/karaoked/internal/songindex"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// IngressManager is the slice of *ingress.Manager the HTTP layer
// drives directly. An interface here keeps httpapi testable without
// spawning real child processes, and lets control-only mode (spec
// §6's KARAOKED_CONTROL_ONLY) run with a nil Manager.
type IngressManager interface {
	Start(ctx context.Context, sessionID int64, offer string) (ingress.Result, error)
	Remove(ctx context.Context, sessionID int64)
	HasIngress(sessionID int64) bool
	ConnectToSink(ctx context.Context, sessionID int64, sinkIndex int) error
}

// playlistFile is the slice of *playlist.File the HTTP layer calls
// directly: reading the current labels and mutating membership from
// /songs/add_to_upl.
type playlistFile interface {
	Read() ([]string, error)
	AppendUnique(label string) (bool, error)
	RemoveMatching(label string) (bool, error)
}

// Server holds every subsystem the HTTP surface fronts.
type Server struct {
	cfg        appconfig.Config
	sessions   *session.Registry
	rooms      *room.Coordinator
	hub        *roomhub.Hub
	ingress    IngressManager
	lock       *control.Lock
	songs      *songindex.Index
	playlist   playlistFile
	automation *automation.Machine
	logger     zerolog.Logger
	cookies    *cookieSigner

	// writeGameConfig rewrites the game's config file from the current
	// roster; nil disables the side effect (e.g. in tests).
	writeGameConfig func(gameconfig.Roster) error
}

// New builds a Server ready to mount via Router. ingressMgr may be nil
// in control-only mode; writeGameConfig may be nil to disable the
// on-disk game-config sync (e.g. in tests).
func New(
	cfg appconfig.Config,
	sessions *session.Registry,
	rooms *room.Coordinator,
	hub *roomhub.Hub,
	ingressMgr IngressManager,
	lock *control.Lock,
	songs *songindex.Index,
	pl playlistFile,
	auto *automation.Machine,
	writeGameConfig func(gameconfig.Roster) error,
) *Server {
	return &Server{
		cfg:             cfg,
		sessions:        sessions,
		rooms:           rooms,
		hub:             hub,
		ingress:         ingressMgr,
		lock:            lock,
		songs:           songs,
		playlist:        pl,
		automation:      auto,
		logger:          corelog.WithComponent("httpapi"),
		cookies:         newCookieSigner(),
		writeGameConfig: writeGameConfig,
	}
}

// Router builds the chi router with the full route table and
// middleware stack applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(httprate.LimitByIP(20, time.Second))
	r.Use(s.sessionMiddleware)

	r.Get("/", s.handleIndex)
	r.Get("/status", s.handleStatus)
	r.Get("/rooms", s.handleRoomsGet)
	r.Get("/rooms/stream", s.handleRoomsStream)
	r.Post("/rooms/join", s.handleRoomsJoin)
	r.Post("/rooms/leave", s.handleRoomsLeave)
	r.Get("/rooms/capacity", s.handleCapacityGet)
	r.Post("/rooms/capacity", s.handleCapacityPost)

	r.Post("/api", s.handleWebRTCOffer)
	r.Post("/api/disconnect", s.handleDisconnect)
	r.Post("/player/delay", s.handlePlayerDelay)

	r.Get("/control/status", s.handleControlStatus)
	r.Post("/control/auth", s.handleControlAuth)
	r.Post("/control/acquire", s.handleControlAcquire)
	r.Post("/control/release", s.handleControlRelease)
	r.Post("/control/keystroke", s.handleControlKeystroke)
	r.Post("/control/text", s.handleControlText)

	r.Get("/songs/index", s.handleSongsIndex)
	r.Get("/songs/search", s.handleSongsSearch)
	r.Post("/songs/add_to_upl", s.handleSongsAddToPlaylist)
	r.Get("/songs/preview", s.handleSongsPreview)

	r.Get("/playlist/status", s.handlePlaylistStatus)
	r.Post("/playlist/toggle", s.handlePlaylistToggle)
	r.Post("/playlist/next", s.handlePlaylistNext)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqLogger := s.logger.With().Str("request_id", chimw.GetReqID(r.Context())).Logger()
		ctx := corelog.WithContext(r.Context(), reqLogger)
		next.ServeHTTP(w, r.WithContext(ctx))
		reqLogger.Info().Str("method", r.Method).Str("path", r.URL.Path).Dur("duration", time.Since(start)).Msg("request")
	})
}
