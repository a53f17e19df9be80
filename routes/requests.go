package routes

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"nest-server/middleware"
	"nest-server/models"
)

// bindOptionalJSON binds the body when there is one.
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// parseDate accepts RFC 3339 timestamps and plain dates, the latter in the jobs timezone.
func (h *Handler) parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, h.cfg.Jobs.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD or RFC 3339", raw)
	}
	return t, nil
}

// transition moves the row id of model from Pending to the values in updates and reloads
// it into model. It writes the error response itself and returns false when nothing changed.
func (h *Handler) transition(c *gin.Context, model interface{}, id string, updates map[string]interface{}) bool {
	db := h.db.WithContext(c.Request.Context())

	res := db.Model(model).
		Where("id = ? AND status = ?", id, models.RequestStatusPending).
		Updates(updates)
	if res.Error != nil {
		logrus.WithError(res.Error).WithField("id", id).Error("❌ Error updating status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update status"})
		return false
	}

	if res.RowsAffected == 0 {
		var count int64
		if err := db.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return false
		}
		if count == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		} else {
			c.JSON(http.StatusConflict, gin.H{"error": "Only pending items can be approved or rejected"})
		}
		return false
	}

	if err := db.First(model, "id = ?", id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return false
	}
	return true
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) SubmitGearRequest(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var request struct {
		GearName string `json:"gear_name" binding:"required"`
		Reason   string `json:"reason"`
		DueDate  string `json:"due_date"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	gearRequest := models.GearRequest{
		UserID:   user.ID,
		GearName: request.GearName,
		Reason:   request.Reason,
	}
	if request.DueDate != "" {
		due, err := h.parseDate(request.DueDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		gearRequest.DueDate = &due
	}

	if err := h.db.WithContext(c.Request.Context()).Create(&gearRequest).Error; err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("❌ Error creating gear request")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create request"})
		return
	}

	notified := h.triggers.RequestSubmitted(notifyContext(c), &gearRequest)

	c.JSON(http.StatusCreated, gin.H{
		"success":  true,
		"request":  gearRequest,
		"notified": notified,
	})
}

func (h *Handler) ApproveGearRequest(c *gin.Context) {
	admin := middleware.CurrentUser(c)

	var request struct {
		AdminNotes string `json:"admin_notes"`
		DueDate    string `json:"due_date"`
	}
	if err := bindOptionalJSON(c, &request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{
		"status":      models.RequestStatusApproved,
		"approved_by": admin.ID,
		"admin_notes": request.AdminNotes,
	}
	if request.DueDate != "" {
		due, err := h.parseDate(request.DueDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updates["due_date"] = due
	}

	var gearRequest models.GearRequest
	if !h.transition(c, &gearRequest, c.Param("id"), updates) {
		return
	}

	result := h.triggers.RequestApproved(notifyContext(c), &gearRequest)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"request":      gearRequest,
		"notification": result,
	})
}

func (h *Handler) RejectGearRequest(c *gin.Context) {
	var request rejectRequest
	if err := bindOptionalJSON(c, &request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var gearRequest models.GearRequest
	updates := map[string]interface{}{
		"status":      models.RequestStatusRejected,
		"admin_notes": request.Reason,
	}
	if !h.transition(c, &gearRequest, c.Param("id"), updates) {
		return
	}

	result := h.triggers.RequestRejected(notifyContext(c), &gearRequest, request.Reason)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"request":      gearRequest,
		"notification": result,
	})
}

func (h *Handler) SubmitCheckin(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var request struct {
		RequestID string `json:"request_id"`
		GearName  string `json:"gear_name" binding:"required"`
		Condition string `json:"condition"`
		Notes     string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	checkin := models.GearCheckin{
		UserID:    user.ID,
		GearName:  request.GearName,
		Condition: request.Condition,
		Notes:     request.Notes,
	}
	if request.RequestID != "" {
		checkin.RequestID = &request.RequestID
	}

	if err := h.db.WithContext(c.Request.Context()).Create(&checkin).Error; err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("❌ Error creating check-in")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create check-in"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"checkin": checkin,
	})
}

func (h *Handler) ApproveCheckin(c *gin.Context) {
	var checkin models.GearCheckin
	updates := map[string]interface{}{"status": models.RequestStatusApproved}
	if !h.transition(c, &checkin, c.Param("id"), updates) {
		return
	}

	if checkin.RequestID != nil {
		if err := h.db.WithContext(c.Request.Context()).Model(&models.GearRequest{}).
			Where("id = ?", *checkin.RequestID).
			Update("status", models.RequestStatusReturned).Error; err != nil {
			logrus.WithError(err).WithField("request_id", *checkin.RequestID).Warn("⚠️ Could not mark request as returned")
		}
	}

	result := h.triggers.CheckinApproved(notifyContext(c), &checkin)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"checkin":      checkin,
		"notification": result,
	})
}

func (h *Handler) RejectCheckin(c *gin.Context) {
	var request rejectRequest
	if err := bindOptionalJSON(c, &request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var checkin models.GearCheckin
	updates := map[string]interface{}{"status": models.RequestStatusRejected}
	if !h.transition(c, &checkin, c.Param("id"), updates) {
		return
	}

	result := h.triggers.CheckinRejected(notifyContext(c), &checkin, request.Reason)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"checkin":      checkin,
		"notification": result,
	})
}

func (h *Handler) SubmitCarBooking(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var request struct {
		CarLabel    string `json:"car_label"`
		DateOfUse   string `json:"date_of_use" binding:"required"`
		TimeSlot    string `json:"time_slot"`
		Destination string `json:"destination"`
		Purpose     string `json:"purpose"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dateOfUse, err := h.parseDate(request.DateOfUse)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	booking := models.CarBooking{
		UserID:      user.ID,
		CarLabel:    request.CarLabel,
		DateOfUse:   dateOfUse,
		TimeSlot:    request.TimeSlot,
		Destination: request.Destination,
		Purpose:     request.Purpose,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&booking).Error; err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("❌ Error creating car booking")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create booking"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"booking": booking,
	})
}

func (h *Handler) ApproveCarBooking(c *gin.Context) {
	var booking models.CarBooking
	updates := map[string]interface{}{"status": models.RequestStatusApproved}
	if !h.transition(c, &booking, c.Param("id"), updates) {
		return
	}

	result := h.triggers.CarBookingApproved(notifyContext(c), &booking)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"booking":      booking,
		"notification": result,
	})
}

func (h *Handler) RejectCarBooking(c *gin.Context) {
	var request rejectRequest
	if err := bindOptionalJSON(c, &request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var booking models.CarBooking
	updates := map[string]interface{}{"status": models.RequestStatusRejected}
	if !h.transition(c, &booking, c.Param("id"), updates) {
		return
	}

	result := h.triggers.CarBookingRejected(notifyContext(c), &booking, request.Reason)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"booking":      booking,
		"notification": result,
	})
}
