package monitoring

import (
	"strconv"

	"github.com/GriffinCanCode/playsys/internal/abi"
)

// resultLabel keeps the result label bounded: "ok" or the error name.
func resultLabel(ret int32) string {
	if ret >= 0 {
		return "ok"
	}
	return abi.Errno(-ret).String()
}

// statusLabel buckets exit statuses so a guest cannot blow up cardinality.
func statusLabel(status int32) string {
	if status >= 0 && status <= 255 {
		return strconv.Itoa(int(status))
	}
	return "other"
}
