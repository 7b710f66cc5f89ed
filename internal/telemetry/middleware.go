package telemetry

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GinMiddleware opens one span per request, named "http.<method>" and
// carrying the method and request URL path as attributes, and records
// the response status as the span's error state for anything >= 500.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, end := StartSpan(c.Request.Context(), "http."+c.Request.Method,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.path", c.Request.URL.Path),
		)
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		var err error
		if status := c.Writer.Status(); status >= 500 {
			if len(c.Errors) > 0 {
				err = c.Errors.Last().Err
			} else {
				err = statusError(status)
			}
		}
		end(err)
	}
}

type statusError int

func (s statusError) Error() string {
	return "http status " + strconv.Itoa(int(s))
}
