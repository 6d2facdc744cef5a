package controllers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/livewell/models"
	"github.com/cppla/livewell/services"
	"github.com/cppla/livewell/utils"
)

const maxSyncBody = 1 << 20

// SyncController accepts client state snapshots.
type SyncController struct {
	svc *services.SyncService
	log *zap.Logger
}

// NewSyncController answers /sync with svc.
func NewSyncController(svc *services.SyncService, log *zap.Logger) *SyncController {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncController{svc: svc, log: log}
}

// Push stores the posted snapshot and answers {success, userId} or {error}.
func (s *SyncController) Push(ctx *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxSyncBody+1))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, utils.ErrorBody{Error: "failed to read request body"})
		return
	}
	if len(raw) > maxSyncBody {
		ctx.JSON(http.StatusRequestEntityTooLarge, utils.ErrorBody{Error: "request body too large"})
		return
	}

	if err := services.ValidateSyncDocument(raw); err != nil {
		s.fail(ctx, err)
		return
	}
	var payload models.SyncPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		ctx.JSON(http.StatusBadRequest, utils.ErrorBody{Error: "invalid sync document"})
		return
	}

	userID, err := s.svc.Push(ctx.Request.Context(), &payload)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "userId": userID})
}

func (s *SyncController) fail(ctx *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("sync request failed", zap.Error(err))
	}
	ctx.JSON(status, utils.ErrorBody{Error: services.Message(err)})
}
