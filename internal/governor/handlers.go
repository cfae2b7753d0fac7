package governor

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/tradewarden/internal/auth"
	"github.com/ksred/tradewarden/pkg/response"
)

// GinHandlers contains HTTP handlers for confidence policy endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetPolicyHandler handles GET requests for the caller's own policy.
func (h *GinHandlers) GetPolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}
		userID := auth.GetClientID(claims)
		if userID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		policy, err := h.service.Policy(userID)
		response.Handle(c, policy, err)
	}
}

// CheckAndPromoteHandler handles internal POST requests to evaluate one
// user's promotion now instead of waiting for the schedule.
func (h *GinHandlers) CheckAndPromoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		if userID == "" {
			response.BadRequest(c, "User ID is required")
			return
		}

		result, err := h.service.CheckAndPromote(userID)
		response.Handle(c, result, err)
	}
}
