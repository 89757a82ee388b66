package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/supportchat/internal/alert"
	"github.com/supportchat/internal/chat"
	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/ws"
)

// Deps is everything the console API is built from.
type Deps struct {
	Store          *chat.Store
	Status         ConnectionStatus
	Hub            *ws.Hub
	WebPush        *alert.WebPush
	PageSize       int
	AllowedOrigins []string
	ConsoleToken   string
	RatePerMinute  int
}

// NewRouter собирает консольный API поверх хранилища чатов.
func NewRouter(d Deps) http.Handler {
	chatH := NewChatHandler(d.Store)
	msgH := NewMessageHandler(d.Store)
	notifH := NewNotificationHandler(d.Store)
	configH := NewConfigHandler(d.Store, d.Status, d.PageSize)
	pushH := NewPushHandler(d.WebPush)
	limiter := middleware.NewRateLimiter(d.RatePerMinute, 0)

	r := chi.NewRouter()
	r.Use(middleware.RecoverJSON)
	r.Use(chimw.Heartbeat("/health"))
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Console-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.LocalOnly(d.ConsoleToken))
		r.Use(limiter.Handler)
		r.Use(chimw.NoCache)

		r.Get("/api/session", configH.GetSession)
		r.Get("/api/connection", configH.GetConnection)

		r.Get("/api/chats", chatH.List)
		r.Post("/api/chats", chatH.Start)
		r.Get("/api/chats/active", chatH.Active)
		r.Post("/api/chats/{id}/select", chatH.Select)
		r.Put("/api/chats/{id}/close", chatH.Close)
		r.Put("/api/chats/{id}/tags", chatH.UpdateTags)
		r.Post("/api/chats/{id}/notes", chatH.AddNote)

		r.Get("/api/messages", msgH.Timeline)
		r.Post("/api/messages", msgH.Send)
		r.Post("/api/messages/older", msgH.LoadOlder)
		r.Post("/api/read", msgH.MarkRead)

		r.Get("/api/notifications", notifH.List)
		r.Post("/api/notifications/clear", notifH.ClearAll)
		r.Post("/api/notifications/{chatId}/clear", notifH.ClearChat)
		r.Delete("/api/notifications/{id}", notifH.Dismiss)

		r.Get("/api/push/config", pushH.GetConfig)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)

		if d.Hub != nil {
			r.Get("/ws", NewWSHandler(d.Hub, d.Status, strings.Join(d.AllowedOrigins, ",")).ServeWS)
		}
	})
	return r
}
