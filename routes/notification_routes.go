package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nest-server/middleware"
	"nest-server/models"
	"nest-server/services"
	"nest-server/websocket"
)

// GetUserNotifications lists the caller's notifications, newest first.
// Query: limit (default 50, max 100), unread=true.
func (h *Handler) GetUserNotifications(c *gin.Context) {
	user := middleware.CurrentUser(c)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = l
	}
	unreadOnly := c.Query("unread") == "true"

	notifications, err := h.writer.List(c.Request.Context(), user.ID, limit, unreadOnly)
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("❌ Error fetching notifications")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"notifications": notifications,
	})
}

func (h *Handler) GetUnreadCount(c *gin.Context) {
	user := middleware.CurrentUser(c)

	count, err := h.writer.UnreadCount(c.Request.Context(), user.ID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("❌ Error counting unread notifications")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   count,
	})
}

// MarkNotificationAsRead marks a specific notification as read
func (h *Handler) MarkNotificationAsRead(c *gin.Context) {
	user := middleware.CurrentUser(c)

	err := h.writer.MarkRead(c.Request.Context(), user.ID, c.Param("id"))
	switch {
	case errors.Is(err, services.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
		return
	case err != nil:
		logrus.WithError(err).WithField("user_id", user.ID).Error("❌ Error marking notification as read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notification as read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Notification marked as read",
	})
}

func (h *Handler) MarkAllNotificationsAsRead(c *gin.Context) {
	user := middleware.CurrentUser(c)

	updated, err := h.writer.MarkAllRead(c.Request.Context(), user.ID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("❌ Error marking notifications as read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notifications as read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"updated": updated,
	})
}

// readSubscription accepts either the bare PushSubscription JSON or {"subscription": {...}}.
func readSubscription(c *gin.Context) (*webpush.Subscription, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Subscription json.RawMessage `json:"subscription"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Subscription) > 0 {
		raw = wrapper.Subscription
	}
	return services.ParseSubscription(string(raw))
}

// storedEndpoint reads the endpoint of a stored token without validating its keys.
// A token that is not JSON is treated as a bare endpoint.
func storedEndpoint(token string) string {
	var stored struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.Unmarshal([]byte(token), &stored); err != nil {
		return token
	}
	return stored.Endpoint
}

// removeEndpoint deletes the caller's subscriptions for endpoint and reports how many went.
// Other subscriptions are left alone even when they no longer parse.
func removeEndpoint(tx *gorm.DB, userID, endpoint string) (int, error) {
	var tokens []models.UserPushToken
	if err := tx.Where("user_id = ?", userID).Find(&tokens).Error; err != nil {
		return 0, err
	}

	var ids []string
	for _, t := range tokens {
		if storedEndpoint(t.Token) == endpoint {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := tx.Where("id IN ?", ids).Delete(&models.UserPushToken{})
	return int(res.RowsAffected), res.Error
}

// SubscribePush stores a Web Push subscription for the caller. Re-subscribing the same
// endpoint replaces its keys.
func (h *Handler) SubscribePush(c *gin.Context) {
	user := middleware.CurrentUser(c)

	sub, err := readSubscription(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := json.Marshal(sub)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid push subscription"})
		return
	}

	err = h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if _, err := removeEndpoint(tx, user.ID, sub.Endpoint); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.UserPushToken{UserID: user.ID, Token: string(token)}).Error
	})
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("❌ Error saving push subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register push subscription"})
		return
	}

	logrus.WithField("user_id", user.ID).Info("✅ Push subscription registered")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Push subscription registered successfully",
	})
}

func (h *Handler) UnsubscribePush(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var request struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := removeEndpoint(h.db.WithContext(c.Request.Context()), user.ID, request.Endpoint)
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("❌ Error removing push subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove push subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"removed": removed,
	})
}

// PushStatus reports whether the caller has a subscription and hands out the VAPID public key.
func (h *Handler) PushStatus(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var count int64
	if err := h.db.WithContext(c.Request.Context()).Model(&models.UserPushToken{}).
		Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
		logrus.WithError(err).Error("❌ Error checking push subscriptions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"subscribed":     count > 0,
		"subscriptions":  count,
		"vapidPublicKey": h.cfg.Push.VAPIDPublicKey,
	})
}

func (h *Handler) GetPreferences(c *gin.Context) {
	user := middleware.CurrentUser(c)
	prefs := services.DecodePreferences(user.NotificationPreferences)

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"preferences": prefs.Resolved(),
	})
}

// UpdatePreferences merges {"preferences": {channel: {event: bool}}} into the stored document.
func (h *Handler) UpdatePreferences(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var request struct {
		Preferences map[string]map[string]bool `json:"preferences" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prefs := services.DecodePreferences(user.NotificationPreferences)
	for channel, events := range request.Preferences {
		if !services.IsKnownChannel(services.Channel(channel)) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown channel: " + channel})
			return
		}
		for event, enabled := range events {
			if !services.IsKnownEvent(event) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown event: " + event})
				return
			}
			prefs.Set(services.Channel(channel), event, enabled)
		}
	}

	doc, err := prefs.JSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode preferences"})
		return
	}
	if err := h.db.WithContext(c.Request.Context()).Model(&models.Profile{}).
		Where("id = ?", user.ID).Update("notification_preferences", doc).Error; err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("❌ Error saving preferences")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save preferences"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"preferences": prefs.Resolved(),
	})
}

// ServeNotificationsSocket upgrades to the realtime notification feed.
func (h *Handler) ServeNotificationsSocket(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Realtime notifications are disabled"})
		return
	}
	user := middleware.CurrentUser(c)
	websocket.ServeWebSocket(h.hub, h.upgrader, c.Writer, c.Request, user.ID)
}
