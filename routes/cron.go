package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RunPushWorker processes one batch of the push queue and returns the summary.
// The batch keeps running when the caller hangs up.
func (h *Handler) RunPushWorker(c *gin.Context) {
	if h.worker == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Push delivery is not configured"})
		return
	}

	summary, err := h.worker.Run(notifyContext(c))
	if err != nil {
		logrus.WithError(err).Error("❌ Push worker run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) RunOverdueSweep(c *gin.Context) {
	result, err := h.triggers.OverdueSweep(notifyContext(c), h.now().UTC())
	if err != nil {
		logrus.WithError(err).Error("❌ Overdue sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (h *Handler) RunReminderSweep(c *gin.Context) {
	result, err := h.triggers.ReminderSweep(notifyContext(c), h.now().UTC())
	if err != nil {
		logrus.WithError(err).Error("❌ Reminder sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}
