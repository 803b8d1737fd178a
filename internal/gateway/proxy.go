package gateway

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/circuitbreaker"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/dispatch"
)

const contentTypeProto = "application/proto"

// proxyHandler forwards a request body to the backend method named by
// the trailing path segment and writes the raw response back. The
// handler is glue: pooling, breaker checks, deadlines and recording all
// live in the dispatch handle.
func proxyHandler(h *dispatch.Handle) gin.HandlerFunc {
	base := strings.TrimSuffix(h.MethodBase(), "/")

	return func(c *gin.Context) {
		rpc := strings.Trim(c.Param("rpc"), "/")
		if rpc == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "missing method name"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		payload, err := h.Invoke(c.Request.Context(), base+"/"+rpc, body)
		if err != nil {
			c.JSON(httpStatusFromError(err), gin.H{
				"error":   err.Error(),
				"backend": h.Name(),
			})
			return
		}

		c.Data(http.StatusOK, contentTypeProto, payload)
	}
}

// httpStatusFromError maps dispatch failures onto HTTP statuses. An
// open circuit and a backend outage are both 5xx but distinguishable.
func httpStatusFromError(err error) int {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return http.StatusServiceUnavailable
	}

	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusBadGateway
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
