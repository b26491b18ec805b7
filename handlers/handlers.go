package handlers

import (
	"net/http"

	"github.com/VoidObscura/sabrdaemon/internal/logbuf"
	"github.com/VoidObscura/sabrdaemon/services/downloader"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Downloader *downloader.Service
	LogRing    *logbuf.Ring
}

func SetupRoutes(router *gin.Engine, downloaderService *downloader.Service, logRing *logbuf.Ring) {
	handler := &Handlers{Downloader: downloaderService, LogRing: logRing}
	router.POST("/download", handler.StartDownload)
	router.GET("/download/:id", handler.DownloadStatus)
	router.GET("/debuglog", handler.DebugLog)
}

func (h *Handlers) StartDownload(ctx *gin.Context) {
	var reqData downloader.DownloadRequest
	if err := ctx.ShouldBindJSON(&reqData); err != nil {
		ResponseError(ctx, http.StatusBadRequest, err)
		return
	}
	job, err := h.Downloader.StartDownload(ctx.Request.Context(), reqData)
	if err != nil {
		ResponseError(ctx, http.StatusBadRequest, err)
		return
	}
	ResponseSuccess(ctx, StartDownloadResponse{State: "ACK", TrackID: job.TrackID})
}

func (h *Handlers) DownloadStatus(ctx *gin.Context) {
	job, ok := h.Downloader.GetJob(ctx.Param("id"))
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no such download"})
		return
	}
	ResponseSuccess(ctx, job.Snapshot())
}

func (h *Handlers) DebugLog(ctx *gin.Context) {
	ResponseSuccess(ctx, gin.H{"lines": h.LogRing.Lines()})
}
