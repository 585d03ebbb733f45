package router

import (
	"context"

	"realtime_chat_service/internal/chat/app"
	"realtime_chat_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes 註冊聊天服務的路由
func RegisterRoutes(r *fiber.App, gatekeeper *app.Gatekeeper, chatWebsocket *app.ChatWebsocketHandler, rooms *app.RoomHandler) {
	r.Get("/", app.ConnectCheck)
	r.Post("/debug", app.DebugLogFlag)

	ws := r.Group("/ws", middlewares.HandshakeMiddleware(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	ws.Get("/", websocket.New(func(c *websocket.Conn) {
		chatWebsocket.HandleConnection(context.Background(), c)
	}))

	roomGroup := r.Group("/rooms", app.HTTPAuth(gatekeeper))
	roomGroup.Post("/create", rooms.CreateRoom)
	roomGroup.Delete("/delete", rooms.DeleteRoom)
	roomGroup.Put("/members", rooms.UpdateMembers)
	roomGroup.Put("/avatar", rooms.SetAvatar)
}
