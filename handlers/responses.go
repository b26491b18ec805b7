package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type StartDownloadResponse struct {
	State   string `json:"state"`
	TrackID string `json:"trackId"`
}

func ResponseSuccess(ctx *gin.Context, body any) {
	ctx.JSON(http.StatusOK, body)
}

func ResponseError(ctx *gin.Context, status int, err error) {
	ctx.JSON(status, gin.H{"error": err.Error()})
}
