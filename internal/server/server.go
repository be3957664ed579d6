package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"riffstore/internal/config"
	"riffstore/internal/database"
	"riffstore/internal/library"
	"riffstore/internal/metadata"
	"riffstore/internal/ngrok"

	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the download store as a JSON API.
type Server struct {
	config   *config.Config
	store    *database.Manager
	importer *library.Importer
	tunnel   *ngrok.Service
	logger   *logrus.Logger
}

// New creates a server over an open store. A tunnel that cannot be created is
// logged and skipped rather than failing startup.
func New(cfg *config.Config, store *database.Manager, logger *logrus.Logger) *Server {
	tunnel, err := ngrok.NewService(&cfg.Ngrok, logger)
	if err != nil {
		logger.WithError(err).Warn("Could not create ngrok service, continuing without tunnel")
		tunnel = nil
	}

	prober := metadata.NewProber(cfg.Library, logger)
	return &Server{
		config:   cfg,
		store:    store,
		importer: library.NewImporter(store, prober, logger),
		tunnel:   tunnel,
		logger:   logger,
	}
}

// Handler returns the routed API wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealthCheck)

	mux.HandleFunc("GET /api/tracks", s.handleSearchTracks)
	mux.HandleFunc("POST /api/tracks", s.handleAddTrack)
	mux.HandleFunc("GET /api/tracks/recent", s.handleRecentTracks)
	mux.HandleFunc("GET /api/tracks/{trackID}", s.handleGetTrack)
	mux.HandleFunc("DELETE /api/tracks/{trackID}", s.handleDeleteTrack)
	mux.HandleFunc("POST /api/tracks/{trackID}/play", s.handleRecordPlay)
	mux.HandleFunc("GET /stream/{trackID}", s.handleStreamTrack)

	mux.HandleFunc("GET /api/stats", s.handleGetStatistics)
	mux.HandleFunc("GET /api/failures", s.handleRecentFailures)
	mux.HandleFunc("POST /api/failures", s.handleMarkFailed)

	mux.HandleFunc("POST /api/library/scan", s.handleScanLibrary)

	mux.HandleFunc("GET /api/playlists", s.handleListPlaylists)
	mux.HandleFunc("POST /api/playlists", s.handleCreatePlaylist)
	mux.HandleFunc("PUT /api/playlists/sync", s.handleSyncPlaylist)
	mux.HandleFunc("GET /api/playlists/{id}", s.handleGetPlaylist)
	mux.HandleFunc("PUT /api/playlists/{id}", s.handleUpdatePlaylist)
	mux.HandleFunc("DELETE /api/playlists/{id}", s.handleDeletePlaylist)
	mux.HandleFunc("GET /api/playlists/{id}/tracks", s.handlePlaylistTracks)
	mux.HandleFunc("POST /api/playlists/{id}/tracks", s.handleAddTrackToPlaylist)
	mux.HandleFunc("DELETE /api/playlists/{id}/tracks/{trackID}", s.handleRemoveTrackFromPlaylist)

	var handler http.Handler = mux
	handler = s.requireJSONMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.requestLoggingMiddleware(handler)
	handler = s.panicRecoveryMiddleware(handler)
	return requestIDMiddleware(handler)
}

// Run serves the API until ctx is cancelled, then shuts down gracefully. The
// library watcher and ngrok tunnel are started alongside when configured.
func (s *Server) Run(ctx context.Context) error {
	if s.config.Library.WatchForChanges {
		watcher := library.NewWatcher(s.importer, s.logger)
		if err := watcher.Start(ctx, s.config.Library.Path); err != nil {
			s.logger.WithError(err).Warn("Could not start library watcher")
		} else {
			defer watcher.Close()
		}
	}

	listener, err := net.Listen("tcp", s.config.GetAddress())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.GetAddress(), err)
	}

	httpServer := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: time.Duration(s.config.Server.ReadTimeout) * time.Second,
	}

	localAddress := fmt.Sprintf("http://%s", listener.Addr().String())
	fields := logrus.Fields{
		"address":  localAddress,
		"database": s.store.Path(),
	}
	if stats, err := s.store.GetStatistics(ctx); err == nil {
		fields["tracks"] = stats.TotalDownloads
	}
	s.logger.WithFields(fields).Info("riffstore API starting")

	if err := s.tunnel.StartTunnel(ctx, localAddress); err != nil {
		s.logger.WithError(err).Warn("Could not start ngrok tunnel")
	} else {
		defer s.tunnel.Stop()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.logger.Info("API server shutdown complete")
	return nil
}
