package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router for the gateway.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))

	r.Get("/", a.handleLogin)
	r.Get("/login", a.handleLogin)
	r.Get("/callback", a.handleCallback)
	r.Get("/success", a.handleSuccess)

	r.Get("/list", a.handleListSites)
	r.Get("/points", a.handleListPoints)
	r.Get("/files", a.handleListFiles)
	r.Get("/protection", a.handleProtection)
	r.Get("/download", a.handleDownload)
	r.Get("/presign", a.handlePresign)
	r.Get("/upload", a.handleUpload)
	r.Get("/addfile", a.handleAddFile)

	r.Get("/status", a.handleStatus)
	r.Get("/ws", a.Relay.ServeHTTP)

	return r
}
