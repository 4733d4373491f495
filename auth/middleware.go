package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"collab-sync-server/internal/errors"
)

// IdentityKey is where AuthMiddleware stores the verified *Identity on the
// gin context.
const IdentityKey = "identity"

// AuthMiddleware verifies the JWT minted by the API server. Browsers can't
// set headers on websocket upgrades, so a ?token= query parameter is
// accepted as well.
func AuthMiddleware(secret string) gin.HandlerFunc {
	secretBytes := []byte(secret)
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		var token string
		tokenQuery := ctx.Query("token")

		if authHeader != "" {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if tokenQuery != "" {
			token = tokenQuery
		} else {
			ctx.Error(errors.Unauthorized("Authorization is not found!", nil))
			ctx.Abort()
			return
		}

		identity, err := VerifyJWT(secretBytes, token)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		ctx.Set(IdentityKey, identity)
		ctx.Next()
	}
}

// InternalAuthMiddleware guards server-to-server routes with the shared
// internal secret.
func InternalAuthMiddleware(internalSecret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := strings.TrimPrefix(
			ctx.GetHeader("Authorization"),
			"Bearer ",
		)

		if token != internalSecret {
			ctx.Error(errors.Unauthorized("Unauthorized internal call!", nil))
			ctx.Abort()
			return
		}

		ctx.Next()
	}
}
