package response

import (
	"github.com/gin-gonic/gin"

	"github.com/consilience-ai/consilience-backend/internal/platform/apierr"
)

// RespondAPIError classifies err through the apierr taxonomy and writes the
// matching status and stable code. Handlers route every service error here
// so the status mapping lives in one place.
func RespondAPIError(c *gin.Context, err error) {
	ae := apierr.From(err)
	if ae == nil {
		ae = apierr.Internal(nil)
	}
	RespondError(c, ae.Status, ae.Code, ae)
}
