package utils

import (
	"github.com/gin-gonic/gin"
)

// JSONResponse sends a JSON body as-is; the frontend expects flat payloads
func JSONResponse(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// JSONError sends a structured error response with a stable reason string
func JSONError(c *gin.Context, status int, reason string) {
	c.JSON(status, gin.H{
		"error": reason,
	})
}

// AbortWithError sends the error body and stops the middleware chain
func AbortWithError(c *gin.Context, status int, reason string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": reason,
	})
}
