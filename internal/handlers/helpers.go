package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskflow/internal/middleware"
	"taskflow/internal/services"
)

func actorID(c *gin.Context) string {
	return c.GetString(middleware.CtxUserID)
}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.CtxRequestID)
}

// statusOf maps engine errors to HTTP codes; anything unknown is a 500.
func statusOf(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidArgument):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError logs under tag and writes {"error": ...}. Internal failures
// get a generic message.
func respondError(c *gin.Context, log *zap.SugaredLogger, tag string, err error, kv ...any) {
	code := statusOf(err)
	kv = append(kv, "err", err, "user_id", actorID(c), "request_id", requestID(c))
	switch code {
	case http.StatusInternalServerError:
		log.Errorw(tag+"[err]", kv...)
		c.JSON(code, gin.H{"error": "internal error"})
		return
	case http.StatusForbidden:
		log.Warnw(tag+"[deny]", kv...)
	case http.StatusNotFound:
		log.Infow(tag+"[404]", kv...)
	default:
		log.Infow(tag+"[bad]", kv...)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, log *zap.SugaredLogger, tag string, err error) {
	log.Infow(tag+"[bind][err]", "err", err, "request_id", requestID(c))
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// parseDate accepts RFC3339 or a plain YYYY-MM-DD date.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errors.New("invalid date, want RFC3339 or YYYY-MM-DD")
	}
	return t, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v, ok := c.GetQuery(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

func queryPtr(c *gin.Context, key string) *string {
	if v, ok := c.GetQuery(key); ok && v != "" {
		return &v
	}
	return nil
}
