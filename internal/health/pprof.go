package health

import (
	"net/http/pprof"

	"github.com/gin-gonic/gin"
)

// mountPprof serves net/http/pprof through a single catch-all route; gin
// does not allow static siblings next to a catch-all segment.
func mountPprof(r *gin.Engine) {
	r.GET("/debug/pprof/*name", func(c *gin.Context) {
		w, req := c.Writer, c.Request
		switch c.Param("name") {
		case "/cmdline":
			pprof.Cmdline(w, req)
		case "/profile":
			pprof.Profile(w, req)
		case "/symbol":
			pprof.Symbol(w, req)
		case "/trace":
			pprof.Trace(w, req)
		default:
			pprof.Index(w, req)
		}
	})
}
