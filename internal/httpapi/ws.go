package httpapi

import "github.com/gin-gonic/gin"

// handleWebSocket hands the request to the resolved environment's
// Broadcaster, which performs the protocol upgrade itself; gin only
// supplies environment routing on top of the plain net/http handler.
func handleWebSocket(c *gin.Context) {
	svc := servicesFrom(c)
	svc.Broadcaster.ServeHTTP(c.Writer, c.Request)
}
