// Package devorigin is a small origin for exercising the edge locally: a
// login endpoint that answers "200 OK", so the response leg mints a
// session, plus public, private and tile routes behind the protected
// prefix.
package devorigin

import (
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Server is the development origin.
type Server struct {
	router *gin.Engine
	tiles  TileStore
	logger *slog.Logger
}

// NewServer builds the router. tiles may be nil, in which case every tile
// request is a 404.
func NewServer(tiles TileStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{router: router, tiles: tiles, logger: logger}
	s.setupRoutes()
	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/v1")
	{
		v1.GET("/login", s.handleLogin)
		v1.POST("/login", s.handleLogin)
		v1.GET("/public", s.handleResource("public"))
		v1.GET("/private", s.handleResource("private"))
		v1.GET("/tiles/*path", s.handleTile)
		v1.GET("/tileset", s.handleTileset)
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "devorigin"})
	})
}

// handleLogin always succeeds. The edge turns the 200 into a session.
func (s *Server) handleLogin(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleResource(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resource": name})
	}
}

// handleTile serves /v1/tiles/{z}/{x}/{y}[.ext].
func (s *Server) handleTile(c *gin.Context) {
	z, x, y, ok := parseTilePath(c.Param("path"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected /v1/tiles/{z}/{x}/{y}"})
		return
	}
	if s.tiles == nil {
		c.Status(http.StatusNotFound)
		return
	}

	data, err := s.tiles.Tile(c.Request.Context(), z, x, y)
	if errors.Is(err, ErrTileNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("tile lookup failed", "z", z, "x", x, "y", y, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Cache-Control", "public, max-age=3600")
	if isGzip(data) {
		c.Header("Content-Encoding", "gzip")
	}
	c.Data(http.StatusOK, tileContentType(c.Param("path"), data), data)
}

// handleTileset serves the tileset's metadata table as a JSON object.
func (s *Server) handleTileset(c *gin.Context) {
	store, ok := s.tiles.(MetadataStore)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	meta, err := store.Metadata(c.Request.Context())
	if err != nil {
		s.logger.Error("tileset metadata failed", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// parseTilePath parses "/3/4/2.pbf" into 3, 4, 2.
func parseTilePath(p string) (z, x, y int, ok bool) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	last := strings.TrimSuffix(parts[2], path.Ext(parts[2]))

	var err error
	if z, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, false
	}
	if x, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, false
	}
	if y, err = strconv.Atoi(last); err != nil {
		return 0, 0, 0, false
	}
	return z, x, y, true
}

func tileContentType(p string, data []byte) string {
	switch path.Ext(p) {
	case ".pbf", ".mvt":
		return "application/x-protobuf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	}
	return http.DetectContentType(data)
}

// isGzip reports whether data starts with the gzip magic bytes. Vector
// tilesets usually store tiles compressed.
func isGzip(data []byte) bool {
	return len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b
}
