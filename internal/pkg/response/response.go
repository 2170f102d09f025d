package response

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

// apiError carries a numeric code from errcode into the common envelope.
type apiError struct {
	code uint32
	msg  string
}

func (e apiError) Error() string {
	return e.msg
}

func (e apiError) Code() uint32 {
	return e.code
}

func AsCodeErr(code uint32, msg string) error {
	return apiError{code: code, msg: msg}
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// List responds with items, never with null for an empty result.
func List[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	proxyutil.SuccessJson(c, items)
}

// Error always answers HTTP 200; the failure is in the envelope code.
func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, 200, AsCodeErr(uint32(code), message))
}
