// Package web serves the embedded browser pages: a form that posts text to
// /anonymize and a live dashboard fed by the websocket event stream.
package web

import (
	"embed"
	"net/http"
)

//go:embed static/*.html
var static embed.FS

func serveFile(w http.ResponseWriter, name string) {
	data, err := static.ReadFile("static/" + name)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(data)
}

// ServeForm serves the anonymization form
func ServeForm(w http.ResponseWriter, r *http.Request) {
	serveFile(w, "index.html")
}

// ServeDashboard serves the live dashboard
func ServeDashboard(w http.ResponseWriter, r *http.Request) {
	serveFile(w, "dashboard.html")
}
