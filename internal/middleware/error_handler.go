package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apiError "collab-sync-server/internal/errors"
)

func ErrorHandler(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next() // Execute the handler first

		// detect any errors
		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err

			var appErr *apiError.AppError

			// if it's not our custom AppError, treat as internal
			if !errors.As(err, &appErr) {
				appErr = apiError.Internal(err)
			}

			if appErr.Status >= 500 {
				log.Error().Err(appErr.Internal).Str("path", c.FullPath()).Msg(appErr.Message)
			} else {
				log.Info().Err(appErr.Internal).Str("path", c.FullPath()).Msg(appErr.Message)
			}

			c.AbortWithStatusJSON(appErr.Status, appErr)
		}
	}
}
