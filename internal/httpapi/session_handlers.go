package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/fahrizalm14/wasap-gateway/internal/engineerr"
	"github.com/fahrizalm14/wasap-gateway/internal/eventbus"
	"github.com/fahrizalm14/wasap-gateway/pkg/response"
)

type sessionView struct {
	ApiKey      string  `json:"apiKey"`
	DisplayName *string `json:"displayName,omitempty"`
	Status      string  `json:"status"`
	Connected   bool    `json:"connected"`
}

func (rt *Router) listSessions(c *gin.Context) {
	summaries, err := rt.sup.ListSessions()
	if err != nil {
		_ = c.Error(err)
		return
	}

	views := make([]sessionView, 0, len(summaries))
	for _, s := range summaries {
		views = append(views, sessionView{
			ApiKey:      s.ApiKey,
			DisplayName: s.DisplayName,
			Status:      string(s.Status),
			Connected:   s.Connected,
		})
	}
	response.OK(c, views)
}

type getQrRequest struct {
	DisplayName *string `json:"displayName"`
}

type getQrView struct {
	ApiKey string  `json:"apiKey"`
	Status string  `json:"status"`
	Qr     *string `json:"qr,omitempty"`
}

func (rt *Router) getQr(c *gin.Context) {
	apiKey := c.Param("apiKey")

	var req getQrRequest
	_ = c.ShouldBindJSON(&req)

	result, err := rt.sup.GetQr(c.Request.Context(), apiKey, req.DisplayName)
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.OK(c, getQrView{ApiKey: result.ApiKey, Status: string(result.Status), Qr: result.Qr})
}

func (rt *Router) logout(c *gin.Context) {
	apiKey := c.Param("apiKey")

	if err := rt.sup.Logout(c.Request.Context(), apiKey); err != nil {
		_ = c.Error(err)
		return
	}
	response.OKMessage(c, "Logged out")
}

type statusView struct {
	ApiKey    string `json:"apiKey"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

func (rt *Router) getStatus(c *gin.Context) {
	apiKey := c.Param("apiKey")

	result, err := rt.sup.GetConnectionStatus(apiKey)
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.OK(c, statusView{ApiKey: result.ApiKey, Status: string(result.Status), Connected: result.Connected})
}

func (rt *Router) stream(c *gin.Context) {
	apiKey := c.Param("apiKey")

	status, err := rt.sup.GetConnectionStatus(apiKey)
	if err != nil {
		_ = c.Error(err)
		return
	}

	initial := eventbus.Initial{
		Status: &eventbus.ConnectionInfo{ApiKey: status.ApiKey, Status: status.Status, Connected: status.Connected},
	}
	if qr := rt.sup.GetCurrentQr(apiKey); qr != nil {
		initial.Qr = &eventbus.QrInfo{ApiKey: apiKey, Qr: qr}
	}

	rt.bus.Subscribe(c.Writer, c.Request, apiKey, initial)
}

type sendTextRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendTextView struct {
	MessageID string `json:"messageId"`
}

func (rt *Router) sendText(c *gin.Context) {
	apiKey := c.Param("apiKey")

	var req sendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(engineerr.Validation("Invalid request body"))
		return
	}

	result, err := rt.sup.SendText(c.Request.Context(), apiKey, req.To, req.Text)
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.OK(c, sendTextView{MessageID: result.MessageID})
}
