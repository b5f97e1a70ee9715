package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	roleKey    = "auth.role"
)

// Role is the access level an API key grants.
type Role int

const (
	RoleNone Role = iota
	// RoleTerminal may recognize faces and follow events.
	RoleTerminal
	// RoleOperator may additionally enroll and remove members.
	RoleOperator
)

func (r Role) String() string {
	switch r {
	case RoleTerminal:
		return "terminal"
	case RoleOperator:
		return "operator"
	default:
		return "none"
	}
}

// Keys are the configured API keys. With both empty, authentication is
// disabled and every caller is an operator.
type Keys struct {
	Operator string
	Terminal string
}

func (k Keys) Disabled() bool {
	return k.Operator == "" && k.Terminal == ""
}

// RoleFor returns the role granted by key.
func (k Keys) RoleFor(key string) Role {
	switch {
	case key == "":
		return RoleNone
	case k.Operator != "" && subtle.ConstantTimeCompare([]byte(key), []byte(k.Operator)) == 1:
		return RoleOperator
	case k.Terminal != "" && subtle.ConstantTimeCompare([]byte(key), []byte(k.Terminal)) == 1:
		return RoleTerminal
	default:
		return RoleNone
	}
}

// APIKeyMiddleware requires an X-API-Key granting at least need. Browsers
// cannot set headers on WebSocket upgrades, so the key may also be passed
// as the api_key query parameter.
func APIKeyMiddleware(keys Keys, need Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keys.Disabled() {
			c.Set(roleKey, RoleOperator)
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" {
			provided = c.Query("api_key")
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		role := keys.RoleFor(provided)
		if role == RoleNone {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}
		if role < need {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": need.String() + " key required",
			})
			return
		}

		c.Set(roleKey, role)
		c.Next()
	}
}

// RoleOf returns the role the middleware granted to this request.
func RoleOf(c *gin.Context) Role {
	if v, ok := c.Get(roleKey); ok {
		if r, ok := v.(Role); ok {
			return r
		}
	}
	return RoleNone
}
