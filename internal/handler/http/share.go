package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yfffy/simplemeet/internal/service"
)

// ShareHandler 封装了与 Share 查询相关的 HTTP 处理逻辑。
// Share 的创建与加入走 WebSocket；HTTP 侧只提供只读的状态查询。
type ShareHandler struct {
	shareService *service.ShareService
}

// NewShareHandler 创建 ShareHandler 实例
func NewShareHandler(shareService *service.ShareService) *ShareHandler {
	if shareService == nil {
		panic("ShareService cannot be nil for ShareHandler")
	}
	return &ShareHandler{shareService: shareService}
}

// GetShareStatus 处理查询 Share 状态的请求。
// GET /api/shares/:code
func (h *ShareHandler) GetShareStatus(c *gin.Context) {
	rawCode := c.Param("code")
	logCtx := logrus.WithField("share_code", rawCode)

	status, err := h.shareService.Status(c.Request.Context(), rawCode)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.GetShareStatus: lookup failed")
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, status)
}

// memberView 是成员在 HTTP 响应中的表示。
type memberView struct {
	SID      string   `json:"sid"`
	Username string   `json:"username"`
	Color    string   `json:"color"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Heading  *float64 `json:"heading"`
}

// GetShareMembers 处理查询 Share 成员快照的请求。
// GET /api/shares/:code/members
func (h *ShareHandler) GetShareMembers(c *gin.Context) {
	code, err := service.ValidateShareCode(c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	logCtx := logrus.WithField("share_code", code)

	// 先确认 Share 存在，空列表与不存在的 Share 要区分开
	if _, err := h.shareService.Status(c.Request.Context(), code); err != nil {
		logCtx.WithError(err).Warn("Handler.GetShareMembers: lookup failed")
		HandleServiceError(c, err)
		return
	}

	members, err := h.shareService.Snapshot(c.Request.Context(), code)
	if err != nil {
		logCtx.WithError(err).Error("Handler.GetShareMembers: snapshot failed")
		HandleServiceError(c, err)
		return
	}

	views := make([]memberView, 0, len(members))
	for i := range members {
		m := &members[i]
		views = append(views, memberView{
			SID:      m.ConnectionID,
			Username: m.Username,
			Color:    m.Color,
			Lat:      m.Lat,
			Lon:      m.Lon,
			Heading:  m.Heading,
		})
	}
	SuccessResponse(c, http.StatusOK, gin.H{"share_code": code, "users": views})
}
