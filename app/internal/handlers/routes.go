package handlers

import "net/http"

// NewRouter mounts every endpoint. Pricing and the model list are public;
// everything else passes through requireAuth.
func NewRouter(price *PriceHandler, chat *ChatHandler, templates *TemplateHandler, requireAuth func(http.Handler) http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/price", price.HandlePrice)
	mux.HandleFunc("GET /api/models", price.HandleModels)

	private := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, requireAuth(h))
	}

	private("POST /api/chat/respond", chat.HandleRespond)
	private("GET /api/chat/sessions", chat.HandleList)
	private("POST /api/chat/sessions", chat.HandleCreate)
	private("GET /api/chat/sessions/empty", chat.HandleEmpty)
	private("GET /api/chat/sessions/{id}", chat.HandleSingle)
	private("GET /api/chat/sessions/{id}/messages", chat.HandleMessages)
	private("DELETE /api/chat/sessions/{id}", chat.HandleDelete)

	private("GET /api/templates", templates.HandleList)
	private("POST /api/templates", templates.HandleCreate)
	private("GET /api/templates/{id}", templates.HandleGet)
	private("PUT /api/templates/{id}", templates.HandleUpdate)
	private("DELETE /api/templates/{id}", templates.HandleDelete)

	return mux
}
