package transport

import "net/http"

type router struct {
	h *handler
}

func NewRouter(h *handler) *router {
	return &router{h: h}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("POST /uploads", r.h.upload)
	mux.HandleFunc("GET /uploads", r.h.list)
	mux.HandleFunc("GET /uploads/{id}", r.h.task)
	mux.HandleFunc("DELETE /uploads/{id}", r.h.clear)
	mux.HandleFunc("POST /uploads/{id}/cancel", r.h.cancel)
	mux.HandleFunc("POST /sweep", r.h.sweep)
	mux.HandleFunc("GET /memory", r.h.memory)
	mux.HandleFunc("POST /control", r.h.control)
	mux.HandleFunc("GET /events", r.h.events)

	return mux
}
