package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/playsys/internal/abi"
)

// Middleware creates a Gin middleware for request metrics
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures one syscall
type Timer struct {
	start   time.Time
	metrics *Metrics
	op      abi.Op
}

// NewTimer starts timing op
func NewTimer(metrics *Metrics, op abi.Op) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		op:      op,
	}
}

// Stop records the syscall with its return value. A nil Timer is a no-op.
func (t *Timer) Stop(ret int32) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.RecordSyscall(t.op, ret, time.Since(t.start))
}
