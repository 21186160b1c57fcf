package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/betbot/kisbot/internal/kis"
)

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// writeKISError 按错误类别映射状态码
func writeKISError(c *gin.Context, err error) {
	switch {
	case kis.IsValidationError(err):
		writeError(c, http.StatusBadRequest, err.Error())
	case kis.IsBusinessRejection(err):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case kis.IsCredentialError(err), kis.IsGatewayError(err):
		writeError(c, http.StatusBadGateway, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, err.Error())
	}
}

// environment 取 ?env= 覆盖，缺省用配置环境
func (s *Server) environment(c *gin.Context) (kis.Environment, bool) {
	v := strings.TrimSpace(c.Query("env"))
	if v == "" {
		return s.cfg.Env, true
	}
	env, err := kis.ParseEnvironment(v)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return "", false
	}
	return env, true
}

// purchaseStatus 空 204，全部成功 200，部分成功 207，全部失败 500
func purchaseStatus(total, ok int) int {
	switch {
	case total == 0:
		return http.StatusNoContent
	case ok == total:
		return http.StatusOK
	case ok > 0:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// fallbackStatus 空 204，全部成功 200，其余 207
func fallbackStatus(total, ok int) int {
	switch {
	case total == 0:
		return http.StatusNoContent
	case ok == total:
		return http.StatusOK
	default:
		return http.StatusMultiStatus
	}
}

func respond(c *gin.Context, status int, body any) {
	if status == http.StatusNoContent {
		c.Status(status)
		return
	}
	c.JSON(status, body)
}
