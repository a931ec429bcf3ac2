package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loomchat/loomchat/internal/errs"
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func Fail(c *gin.Context, code errs.Code, msg string) {
	e := errs.Error{Code: code, Message: msg}
	c.JSON(e.HTTPStatus(), gin.H{
		"code":    code,
		"message": msg,
	})
}

// FailErr renders a taxonomy error, hiding internal causes from the client.
func FailErr(c *gin.Context, err error, surface string) {
	e := errs.As(err, surface)
	c.JSON(e.HTTPStatus(), gin.H{
		"code":    e.Code,
		"message": e.Message,
	})
}
