package app

import (
	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/middlewares"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const maxAvatarSize = 5 << 20

// RoomHandler 處理聊天室相關的 HTTP 請求
type RoomHandler struct {
	uc       *RoomUseCase
	validate *validator.Validate
}

// NewRoomHandler create RoomHandler
func NewRoomHandler(uc *RoomUseCase) *RoomHandler {
	return &RoomHandler{uc: uc, validate: NewValidator()}
}

// HTTPAuth authenticate a REST call with the same credentials as the websocket handshake
func HTTPAuth(g *Gatekeeper) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken, deviceID := middlewares.Credentials(c)
		identity, err := g.Authenticate(c.UserContext(), accessToken, deviceID)
		if err != nil {
			return writeError(c, err)
		}
		c.Locals(middlewares.LocalUserID, identity.UserID)
		return c.Next()
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status := errprocess.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		logger.Log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": errprocess.Public(err)})
}

func (h *RoomHandler) parse(c *fiber.Ctx, op string, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return errprocess.Invalid("invalid request")
	}
	if err := h.validate.Struct(req); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
		}
		return errprocess.Validation(op, fields...)
	}
	return nil
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals(middlewares.LocalUserID).(string)
	return id
}

// CreateRoom 建立聊天室
// @Summary Create a room
// @Tags Rooms
// @Accept json
// @Produce json
// @Success 201 {object} domain.Room
// @Failure 400 {object} string "请求错误"
// @Router /rooms/create [post]
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	type request struct {
		RoomType  string   `json:"roomType" validate:"required,oneof=private group broadcast"`
		Name      string   `json:"name"`
		Theme     string   `json:"theme"`
		Avatar    string   `json:"avatar" validate:"omitempty,url"`
		MemberIDs []string `json:"memberIds" validate:"required,min=1,dive,required"`
	}

	var req request
	if err := h.parse(c, "create room", &req); err != nil {
		return writeError(c, err)
	}

	room, err := h.uc.CreateRoom(c.UserContext(), CreateRoomInput{
		CreatorID: userID(c),
		Type:      domain.RoomType(req.RoomType),
		Name:      req.Name,
		Theme:     req.Theme,
		Avatar:    req.Avatar,
		MemberIDs: req.MemberIDs,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"roomId": room.ID, "room": room})
}

// DeleteRoom 刪除聊天室與所有訊息
// @Summary Delete a room
// @Tags Rooms
// @Accept json
// @Success 200 {object} string "deleted"
// @Failure 404 {object} string "room not found"
// @Router /rooms/delete [delete]
func (h *RoomHandler) DeleteRoom(c *fiber.Ctx) error {
	type request struct {
		RoomID string `json:"roomId" validate:"required"`
	}

	var req request
	if err := h.parse(c, "delete room", &req); err != nil {
		return writeError(c, err)
	}
	if err := h.uc.DeleteRoom(c.UserContext(), userID(c), req.RoomID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"roomId": req.RoomID, "message": "room deleted"})
}

// UpdateMembers 覆寫成員列表
// @Summary Replace the member list
// @Tags Rooms
// @Accept json
// @Produce json
// @Success 200 {object} domain.Room
// @Router /rooms/members [put]
func (h *RoomHandler) UpdateMembers(c *fiber.Ctx) error {
	type request struct {
		RoomID    string   `json:"roomId" validate:"required"`
		MemberIDs []string `json:"memberIds" validate:"required,min=1,dive,required"`
	}

	var req request
	if err := h.parse(c, "update members", &req); err != nil {
		return writeError(c, err)
	}
	room, err := h.uc.UpdateMembers(c.UserContext(), userID(c), req.RoomID, req.MemberIDs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(room)
}

// SetAvatar 上傳聊天室頭像 (multipart: roomId, file)
// @Summary Upload a room avatar
// @Tags Rooms
// @Accept multipart/form-data
// @Produce json
// @Success 200 {object} domain.Room
// @Router /rooms/avatar [put]
func (h *RoomHandler) SetAvatar(c *fiber.Ctx) error {
	roomID := c.FormValue("roomId")
	if roomID == "" {
		return writeError(c, errprocess.Validation("set avatar", "roomId"))
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return writeError(c, errprocess.Validation("set avatar", "file"))
	}
	if fh.Size > maxAvatarSize {
		return writeError(c, errprocess.Invalid("avatar must be at most 5MB"))
	}

	f, err := fh.Open()
	if err != nil {
		return writeError(c, errprocess.Invalid("unreadable upload"))
	}
	defer f.Close()

	room, err := h.uc.SetAvatar(c.UserContext(), userID(c), roomID, AvatarUpload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(room)
}
