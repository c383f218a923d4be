package validation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BindJSON binds the JSON body into out.
// If the body cannot be decoded, it writes a 400 response and returns an error for the handler to short-circuit.
func BindJSON(c *gin.Context, out interface{}) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": []string{"request body must be a JSON object matching the order schema"},
		})
		return err
	}
	return nil
}
