package api

import (
	stderrors "errors"

	"github.com/magicyang-1/chatshare-sub001/internal/service"
	"github.com/magicyang-1/chatshare-sub001/pkg/errors"
	"github.com/magicyang-1/chatshare-sub001/pkg/storage"

	"github.com/gin-gonic/gin"
)

// NOTE: The context key for the caller is always 'userId' (lowercase 'd'), matching the auth middleware.

// callerID returns the authenticated user, recording a 401 when there is none
func callerID(c *gin.Context) (uint, bool) {
	v, exists := c.Get("userId")
	if !exists {
		c.Error(errors.NewUnauthorizedError("UNAUTHORIZED", "User not authenticated"))
		return 0, false
	}
	id, ok := v.(uint)
	if !ok {
		c.Error(errors.NewInternalServerError("SERVER_ERROR", "Invalid user ID format"))
		return 0, false
	}
	return id, true
}

// fail translates a service error into an AppError for the error middleware
func fail(c *gin.Context, err error) {
	c.Error(toAppError(err))
}

func toAppError(err error) *errors.AppError {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case stderrors.Is(err, service.ErrInvalidInput):
		return errors.NewBadRequestError("INVALID_INPUT", err.Error())
	case stderrors.Is(err, service.ErrNotFound), stderrors.Is(err, storage.ErrNotFound):
		return errors.NewNotFoundError("NOT_FOUND", "The requested resource was not found")
	case stderrors.Is(err, storage.ErrInvalidKey):
		return errors.NewBadRequestError("INVALID_FILE_KEY", err.Error())
	case stderrors.Is(err, service.ErrSessionProtected):
		return errors.NewConflictError("SESSION_PROTECTED", "Protected chats cannot be deleted")
	case stderrors.Is(err, service.ErrFileTooLarge):
		return errors.NewPayloadTooLargeError("FILE_TOO_LARGE", err.Error())
	case stderrors.Is(err, service.ErrUnsupportedType):
		return errors.NewUnsupportedMediaTypeError("UNSUPPORTED_FILE_TYPE", err.Error())
	default:
		return errors.NewInternalServerError("SERVER_ERROR", "An internal error occurred")
	}
}
