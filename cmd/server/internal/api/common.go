package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": message,
	})
}

func notFoundResponse(c *gin.Context, resource string) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": resource + " not found",
	})
}

func badRequestResponse(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": message,
	})
}

// conflictResponse reports an operation that is illegal in the job's
// current stage.
func conflictResponse(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, gin.H{
		"error": message,
	})
}

func internalErrorResponse(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":  "internal server error",
		"detail": err.Error(),
	})
}

func validationErrorResponse(c *gin.Context, problems []string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":    "validation failed",
		"problems": problems,
	})
}
