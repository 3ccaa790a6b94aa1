package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/fahrizalm14/wasap-gateway/internal/engineerr"
	"github.com/fahrizalm14/wasap-gateway/pkg/response"
)

type createApiKeyRequest struct {
	Label *string `json:"label"`
}

type apiKeyView struct {
	Key      string  `json:"key"`
	Label    *string `json:"label,omitempty"`
	IsActive bool    `json:"isActive"`
}

func (rt *Router) listApiKeys(c *gin.Context) {
	keys, err := rt.registry.List()
	if err != nil {
		_ = c.Error(engineerr.Internal(err))
		return
	}

	views := make([]apiKeyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, apiKeyView{Key: k.Key, Label: k.Label, IsActive: k.IsActive})
	}
	response.OK(c, views)
}

func (rt *Router) createApiKey(c *gin.Context) {
	var req createApiKeyRequest
	// An empty or absent body is valid; label is optional.
	_ = c.ShouldBindJSON(&req)

	key, err := rt.registry.Generate(req.Label)
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.Created(c, apiKeyView{Key: key.Key, Label: key.Label, IsActive: key.IsActive})
}

func (rt *Router) deactivateApiKey(c *gin.Context) {
	key, err := rt.registry.Deactivate(c.Param("key"))
	if err != nil {
		_ = c.Error(engineerr.Internal(err))
		return
	}
	if key == nil {
		_ = c.Error(&engineerr.Error{Kind: engineerr.KindKeyNotRegistered, Message: "API key not found", HTTPStatus: 404})
		return
	}
	response.OKMessage(c, "Deactivated")
}
