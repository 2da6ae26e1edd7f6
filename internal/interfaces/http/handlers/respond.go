package handlers

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gliksbot/dexter/internal/infrastructure/llm"
	"github.com/gliksbot/dexter/pkg/errors"
)

// writeError maps an application error onto the wire shape every
// endpoint shares: {"error": {"class": ..., "message": ...}}.
func writeError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": errorBody(err)})
}

// writeSessionError is writeError with the session id attached, for
// endpoints that already opened a session when the failure surfaced.
func writeSessionError(c *gin.Context, session string, err error) {
	c.JSON(errorStatus(err), gin.H{"session_id": session, "error": errorBody(err)})
}

func errorBody(err error) gin.H {
	var callErr *llm.CallError
	if stderrors.As(err, &callErr) {
		return gin.H{"class": string(callErr.Class), "message": err.Error()}
	}
	return gin.H{"class": string(errors.CodeOf(err)), "message": err.Error()}
}

func errorStatus(err error) int {
	var callErr *llm.CallError
	if stderrors.As(err, &callErr) {
		return callStatus(callErr.Class)
	}
	return statusOf(err)
}

func callStatus(class llm.ErrorClass) int {
	switch class {
	case llm.ClassConfig:
		return http.StatusUnprocessableEntity
	case llm.ClassTimeout:
		return http.StatusGatewayTimeout
	case llm.ClassCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func statusOf(err error) int {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errors.CodeOf(err) {
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeBusy, errors.CodeServiceUnavail:
		return http.StatusServiceUnavailable
	case errors.CodeConfig:
		return http.StatusUnprocessableEntity
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
