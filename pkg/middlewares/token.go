package middlewares

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	// QueryToken access token in query name
	QueryToken = "access_token"
	// QueryDevice device id in query name
	QueryDevice = "device_id"

	// HeaderToken access token header name
	HeaderToken = "fiyoat"
	// HeaderDevice device id header name
	HeaderDevice = "fiyodid"

	// CookieToken token in cookie name
	CookieToken = "fiyoat"

	// LocalAccessToken c.Locals key of the extracted token
	LocalAccessToken = "accessToken"
	// LocalDeviceID c.Locals key of the extracted device id
	LocalDeviceID = "deviceID"
	// LocalUserID c.Locals key set once a request is authenticated
	LocalUserID = "userID"
)

// Credentials pull the access token and device id out of a request
func Credentials(c *fiber.Ctx) (accessToken, deviceID string) {
	accessToken = c.Query(QueryToken)
	if accessToken == "" {
		accessToken = c.Get(HeaderToken)
	}
	if accessToken == "" {
		if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
			accessToken = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if accessToken == "" {
		accessToken = c.Cookies(CookieToken)
	}

	deviceID = c.Query(QueryDevice)
	if deviceID == "" {
		deviceID = c.Get(HeaderDevice)
	}
	return accessToken, deviceID
}

// HandshakeMiddleware stash the credentials for the websocket handler, verification happens there
// so a failure can be reported over the socket before closing it
func HandshakeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tok, dev := Credentials(c)
		c.Locals(LocalAccessToken, tok)
		c.Locals(LocalDeviceID, dev)
		return c.Next()
	}
}
