// Package ui embeds the minimal debug viewer served at the root path.
// The real renderer is expected to be an external frontend; this one is
// enough to pan, zoom and watch the stream without extra tooling.
package ui

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var content embed.FS

// GetHandler returns an http.Handler that serves the static UI files.
// It strips the "static" prefix from the embedded filesystem so
// index.html sits at the root.
func GetHandler() http.Handler {
	fsys, err := fs.Sub(content, "static")
	if err != nil {
		panic(err) // Should never happen with embed
	}
	return http.FileServer(http.FS(fsys))
}
