package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// backendPrefixes are never served from the frontend bundle.
var backendPrefixes = []string{"/api", "/ws", "/session", "/sessions", "/chat", "/health", "/knowledge"}

func isBackendPath(p string) bool {
	for _, prefix := range backendPrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

// attachStatic registers the SPA middleware for a built frontend in distDir:
//  1. Intercepts GET/HEAD requests outside the backend routes
//  2. If a static file matches, serve it directly and Abort
//  3. If no match and path has no '.' and Accept includes text/html, treat as SPA and serve index.html
//  4. otherwise pass through
func attachStatic(engine *gin.Engine, distDir string) {
	distFS := resolveFrontendFS(distDir)
	if distFS == nil {
		return
	}

	var (
		indexOnce    sync.Once
		indexBytes   []byte
		indexErr     error
		indexETag    string
		indexModTime time.Time
	)
	loadIndex := func() {
		indexBytes, indexErr = fs.ReadFile(distFS, "index.html")
		if indexErr == nil {
			if fi, statErr := fs.Stat(distFS, "index.html"); statErr == nil {
				indexModTime = fi.ModTime()
			} else {
				indexModTime = time.Now()
			}
			h := sha256.Sum256(indexBytes)
			indexETag = `W/"` + hex.EncodeToString(h[:8]) + `"`
		}
	}
	serveIndex := func(c *gin.Context) {
		indexOnce.Do(loadIndex)
		if indexErr != nil || len(indexBytes) == 0 {
			return
		}
		if c.Request.Header.Get("If-None-Match") == indexETag {
			c.Status(http.StatusNotModified)
			c.Abort()
			return
		}
		c.Header("ETag", indexETag)
		c.Header("Cache-Control", "no-cache")
		c.Header("Content-Type", "text/html; charset=utf-8")
		http.ServeContent(c.Writer, c.Request, "index.html", indexModTime, bytes.NewReader(indexBytes))
		c.Abort()
	}

	fileServer := http.FileServer(http.FS(distFS))

	engine.Use(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			return
		}
		p := c.Request.URL.Path
		if isBackendPath(p) {
			return
		}
		if p == "/" {
			serveIndex(c)
			return
		}
		trimmed := strings.TrimPrefix(p, "/")
		if fi, err := fs.Stat(distFS, trimmed); err == nil {
			if fi.IsDir() {
				serveIndex(c)
				return
			}
			fileServer.ServeHTTP(c.Writer, c.Request)
			c.Abort()
			return
		}

		// SPA fallback: serve index.html for client-side routes.
		if !strings.Contains(trimmed, ".") && acceptHTML(c.Request.Header.Get("Accept")) {
			serveIndex(c)
		}
	})
}

// serveIndexFallback attempts to serve the SPA index.html if the request looks like a browser navigation.
// It is safe to call from NoRoute.
func serveIndexFallback(c *gin.Context, distDir string) {
	if c == nil || c.Request == nil {
		return
	}
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		return
	}
	p := c.Request.URL.Path
	if isBackendPath(p) {
		return
	}
	trimmed := strings.TrimPrefix(p, "/")
	if trimmed != "" && strings.Contains(trimmed, ".") {
		return
	}
	if !acceptHTML(c.Request.Header.Get("Accept")) {
		return
	}

	distFS := resolveFrontendFS(distDir)
	if distFS == nil {
		return
	}
	b, err := fs.ReadFile(distFS, "index.html")
	if err != nil || len(b) == 0 {
		return
	}
	modTime := time.Now()
	if fi, statErr := fs.Stat(distFS, "index.html"); statErr == nil {
		modTime = fi.ModTime()
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(c.Writer, c.Request, "index.html", modTime, bytes.NewReader(b))
	c.Abort()
}

// resolveFrontendFS returns the bundle directory if it holds an index.html.
// An empty distDir falls back to ./frontend/dist.
func resolveFrontendFS(distDir string) fs.FS {
	candidates := []string{distDir}
	if distDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil
		}
		candidates = []string{filepath.Join(wd, "frontend", "dist")}
	}
	for _, dir := range candidates {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			dfs := os.DirFS(dir)
			if _, err := fs.Stat(dfs, "index.html"); err == nil {
				return dfs
			}
		}
	}
	return nil
}

// acceptHTML determines if the given accept header string indicates
// that the client accepts HTML content.
func acceptHTML(accept string) bool {
	// Treat missing Accept as HTML navigation.
	if accept == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		p := strings.TrimSpace(strings.ToLower(part))
		if strings.HasPrefix(p, "text/html") || strings.HasPrefix(p, "application/xhtml+xml") {
			return true
		}
	}
	return false
}
