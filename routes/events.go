package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"nest-server/middleware"
	"nest-server/models"
)

// CreateAnnouncement stores an announcement and notifies every active user.
func (h *Handler) CreateAnnouncement(c *gin.Context) {
	admin := middleware.CurrentUser(c)

	var request struct {
		Title   string `json:"title" binding:"required"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	announcement := models.Announcement{
		Title:     request.Title,
		Content:   request.Content,
		CreatedBy: admin.ID,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&announcement).Error; err != nil {
		logrus.WithError(err).Error("❌ Error creating announcement")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create announcement"})
		return
	}

	notified := h.triggers.AnnouncementCreated(notifyContext(c), &announcement)
	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"announcement": announcement,
		"notified":     notified,
	})
}

// SignupEvent is called by the client once after the account was created.
func (h *Handler) SignupEvent(c *gin.Context) {
	user := middleware.CurrentUser(c)
	result := h.triggers.Welcome(notifyContext(c), user.ID)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"notification": result,
	})
}

// LoginEvent records a sign-in and sends the login alert.
func (h *Handler) LoginEvent(c *gin.Context) {
	user := middleware.CurrentUser(c)
	result := h.triggers.LoginAlert(notifyContext(c), user.ID, c.ClientIP(), c.Request.UserAgent(), h.now())
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"notification": result,
	})
}
