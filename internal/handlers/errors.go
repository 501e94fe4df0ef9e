package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/huangang/buildlog/internal/middleware"
	"github.com/huangang/buildlog/internal/services"
	"github.com/huangang/buildlog/pkg/logger"
	"github.com/huangang/buildlog/pkg/response"
)

// toAppError maps a core error kind onto an HTTP error. Concealed denials
// were already rendered as NotFound by the core.
func toAppError(err error) *response.AppError {
	var coreErr *services.Error
	if !errors.As(err, &coreErr) {
		return response.NewServerError("internal server error")
	}
	msg := coreErr.Msg
	if msg == "" {
		msg = coreErr.Kind.String()
	}

	switch coreErr.Kind {
	case services.KindNotFound:
		return response.NewNotFound(msg)
	case services.KindForbidden:
		return response.NewForbidden(msg)
	case services.KindConflict:
		return response.NewConflict(msg)
	case services.KindInvalid:
		return response.NewBadRequest(msg)
	case services.KindTimeout:
		return response.NewTimeout("the operation timed out, please retry")
	case services.KindStoreUnavailable:
		return response.NewServiceUnavailable("storage is temporarily unavailable, please retry")
	default:
		return response.NewServerError("internal server error")
	}
}

func respondError(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= 500 {
		logger.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", c.GetString("request_id")).
			Msg("request failed")
	}
	response.Error(c, appErr)
}

// principal turns the token identity into a core principal.
func principal(c *gin.Context) services.Principal {
	id, _ := middleware.GetIdentity(c)
	return services.Principal{
		ID:        id.UserID,
		Email:     id.Email,
		Name:      id.Name,
		AvatarURL: id.AvatarURL,
	}
}
