package querycache

import "github.com/gin-gonic/gin"

const identityContextKey = "queryIdentity"

// SetIdentity stores the request's cache identity in the gin context.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(identityContextKey, id.Normalize())
}

// IdentityFrom returns the identity stored by SetIdentity, or the anonymous
// identity when none was set.
func IdentityFrom(c *gin.Context) Identity {
	if v, ok := c.Get(identityContextKey); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}.Normalize()
}
