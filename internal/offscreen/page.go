package offscreen

import (
	_ "embed"
	"net/http"
)

//go:embed page.html
var pageHTML []byte

// PageHandler serves the capture page loaded into the background target.
func PageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(pageHTML)
	}
}
