package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/livewell/services"
	"github.com/cppla/livewell/utils"
)

// AlertController exposes the sweep over HTTP for schedulers and diagnostics.
type AlertController struct {
	sweeper *services.Sweeper
	initErr error
	log     *zap.Logger
}

// NewAlertController takes the sweeper or the error that prevented building it;
// the error is answered on every request so the server can still start.
func NewAlertController(sweeper *services.Sweeper, initErr error, log *zap.Logger) *AlertController {
	if log == nil {
		log = zap.NewNop()
	}
	return &AlertController{sweeper: sweeper, initErr: initErr, log: log}
}

// Check runs one sweep. user_id targets one subject, test_to only tests delivery.
func (a *AlertController) Check(ctx *gin.Context) {
	if a.initErr != nil {
		utils.ErrorJSON(ctx, http.StatusInternalServerError, services.Message(a.initErr))
		return
	}

	// a sweep is not cancelled mid-batch when the caller goes away; its own timeout applies
	reqCtx := context.WithoutCancel(ctx.Request.Context())

	var (
		report *services.Report
		err    error
	)
	testTo := strings.TrimSpace(ctx.Query("test_to"))
	userID := strings.TrimSpace(ctx.Query("user_id"))
	if userID == "" {
		userID = strings.TrimSpace(ctx.Query("test_user"))
	}
	switch {
	case testTo != "":
		report, err = a.sweeper.RunConnectivityCheck(reqCtx, testTo)
	case userID != "":
		report, err = a.sweeper.RunTargeted(reqCtx, userID)
	default:
		report, err = a.sweeper.Run(reqCtx)
	}
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			a.log.Error("alert check failed", zap.Error(err))
		}
		utils.ErrorJSON(ctx, status, services.Message(err))
		return
	}
	ctx.JSON(http.StatusOK, report)
}
