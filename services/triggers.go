package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nest-server/models"
)

// In-app notification types
const (
	TypeRequest      = "Request"
	TypeApproval     = "Approval"
	TypeRejection    = "Rejection"
	TypeOverdue      = "Overdue"
	TypeReminder     = "Reminder"
	TypeAnnouncement = "Announcement"
	TypeSecurity     = "Security"
	TypeWelcome      = "Welcome"
)

const dateLayout = "Mon, 02 Jan 2006"

type TriggerOptions struct {
	BaseURL        string
	Location       *time.Location
	ReminderWindow time.Duration
}

// Triggers turns domain events into notifications. Every method reports what happened
// but none of them lets a notification failure reach the caller as an error.
type Triggers struct {
	db       *gorm.DB
	notifier *Notifier
	writer   *NotificationWriter
	webhook  *ChatWebhook
	opts     TriggerOptions
}

func NewTriggers(db *gorm.DB, notifier *Notifier, writer *NotificationWriter, webhook *ChatWebhook, opts TriggerOptions) *Triggers {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ReminderWindow <= 0 {
		opts.ReminderWindow = 24 * time.Hour
	}
	return &Triggers{db: db, notifier: notifier, writer: writer, webhook: webhook, opts: opts}
}

// SweepResult summarises one overdue or reminder sweep.
type SweepResult struct {
	Candidates int          `json:"candidates"`
	Skipped    int          `json:"skipped"`
	Notified   FanOutResult `json:"notified"`
}

func (t *Triggers) link(path string) string {
	return t.opts.BaseURL + path
}

func (t *Triggers) formatDate(at time.Time) string {
	return at.In(t.opts.Location).Format(dateLayout)
}

func (t *Triggers) profile(ctx context.Context, id string) *models.Profile {
	var p models.Profile
	if err := t.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logrus.WithError(err).WithField("user_id", id).Error("Failed to load profile for notification")
		}
		return nil
	}
	return &p
}

func (t *Triggers) activeProfiles(ctx context.Context, role models.UserRole) ([]models.Profile, error) {
	var profiles []models.Profile
	query := t.db.WithContext(ctx).Where("status = ?", models.ProfileStatusActive)
	if role != "" {
		query = query.Where("role = ?", role)
	}
	if err := query.Order("created_at ASC").Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("load active profiles: %w", err)
	}
	return profiles, nil
}

// RequestSubmitted tells every active admin about a new gear request.
func (t *Triggers) RequestSubmitted(ctx context.Context, req *models.GearRequest) FanOutResult {
	requester := t.profile(ctx, req.UserID)
	requesterName := "A user"
	if requester != nil {
		requesterName = requester.DisplayName()
	}

	t.webhook.Notify(fmt.Sprintf("📦 New gear request from %s: %s", requesterName, req.GearName))

	admins, err := t.activeProfiles(ctx, models.RoleAdmin)
	if err != nil {
		logrus.WithError(err).WithField("trigger", "request_submitted").Error("Failed to load admins")
		return FanOutResult{Errors: []string{err.Error()}}
	}

	dispatches := make([]Dispatch, 0, len(admins))
	for i := range admins {
		dispatches = append(dispatches, Dispatch{
			Recipient: &admins[i],
			EventKey:  EventGearRequests,
			Type:      TypeRequest,
			Title:     "New gear request",
			Message:   fmt.Sprintf("%s requested %s", requesterName, req.GearName),
			Link:      t.link("/admin/requests"),
			Metadata:  map[string]interface{}{"request_id": req.ID, "gear_name": req.GearName},
			Category:  "gear",
			Email: &EmailSpec{Template: TemplateAdminNewRequest, Params: map[string]interface{}{
				"RequesterName": requesterName,
				"RequestKind":   "gear request",
				"GearName":      req.GearName,
				"Reason":        req.Reason,
			}},
			Push: &PushSpec{Data: map[string]interface{}{"request_id": req.ID}},
		})
	}
	return t.notifyAll(ctx, "request_submitted", dispatches)
}

func (t *Triggers) RequestApproved(ctx context.Context, req *models.GearRequest) DispatchResult {
	params := map[string]interface{}{"GearName": req.GearName, "Notes": req.AdminNotes}
	message := fmt.Sprintf("Your request for %s has been approved.", req.GearName)
	if req.DueDate != nil {
		params["DueDate"] = t.formatDate(*req.DueDate)
		message = fmt.Sprintf("Your request for %s has been approved. Please return it by %s.", req.GearName, t.formatDate(*req.DueDate))
	}

	recipient := t.profile(ctx, req.UserID)
	if recipient != nil {
		t.webhook.Notify(fmt.Sprintf("✅ Gear request approved for %s: %s", recipient.DisplayName(), req.GearName))
	}

	return t.notify(ctx, "request_approved", Dispatch{
		Recipient: recipient,
		EventKey:  EventGearRequests,
		Type:      TypeApproval,
		Title:     "Request approved",
		Message:   message,
		Link:      t.link("/requests"),
		Metadata:  map[string]interface{}{"request_id": req.ID, "gear_name": req.GearName},
		Category:  "gear",
		Email:     &EmailSpec{Template: TemplateRequestApproved, Params: params},
		Push:      &PushSpec{Data: map[string]interface{}{"request_id": req.ID}},
	})
}

func (t *Triggers) RequestRejected(ctx context.Context, req *models.GearRequest, reason string) DispatchResult {
	message := fmt.Sprintf("Your request for %s was not approved.", req.GearName)
	if reason != "" {
		message += " Reason: " + reason
	}
	return t.notify(ctx, "request_rejected", Dispatch{
		Recipient: t.profile(ctx, req.UserID),
		EventKey:  EventGearRequests,
		Type:      TypeRejection,
		Title:     "Request rejected",
		Message:   message,
		Link:      t.link("/requests"),
		Metadata:  map[string]interface{}{"request_id": req.ID, "gear_name": req.GearName, "reason": reason},
		Category:  "gear",
		Email: &EmailSpec{Template: TemplateRequestRejected, Params: map[string]interface{}{
			"GearName": req.GearName,
			"Reason":   reason,
		}},
		Push: &PushSpec{Data: map[string]interface{}{"request_id": req.ID}},
	})
}

func (t *Triggers) CheckinApproved(ctx context.Context, c *models.GearCheckin) DispatchResult {
	return t.notify(ctx, "checkin_approved", Dispatch{
		Recipient: t.profile(ctx, c.UserID),
		EventKey:  EventGearCheckins,
		Type:      TypeApproval,
		Title:     "Check-in approved",
		Message:   fmt.Sprintf("Your return of %s has been confirmed.", c.GearName),
		Link:      t.link("/checkins"),
		Metadata:  map[string]interface{}{"checkin_id": c.ID, "gear_name": c.GearName},
		Category:  "gear",
		Email: &EmailSpec{Template: TemplateCheckinApproved, Params: map[string]interface{}{
			"GearName":  c.GearName,
			"Condition": c.Condition,
		}},
		Push: &PushSpec{Data: map[string]interface{}{"checkin_id": c.ID}},
	})
}

func (t *Triggers) CheckinRejected(ctx context.Context, c *models.GearCheckin, reason string) DispatchResult {
	message := fmt.Sprintf("Your check-in of %s could not be confirmed.", c.GearName)
	if reason != "" {
		message += " Reason: " + reason
	}
	return t.notify(ctx, "checkin_rejected", Dispatch{
		Recipient: t.profile(ctx, c.UserID),
		EventKey:  EventGearCheckins,
		Type:      TypeRejection,
		Title:     "Check-in rejected",
		Message:   message,
		Link:      t.link("/checkins"),
		Metadata:  map[string]interface{}{"checkin_id": c.ID, "gear_name": c.GearName, "reason": reason},
		Category:  "gear",
		Email: &EmailSpec{Template: TemplateCheckinRejected, Params: map[string]interface{}{
			"GearName": c.GearName,
			"Reason":   reason,
		}},
		Push: &PushSpec{Data: map[string]interface{}{"checkin_id": c.ID}},
	})
}

func (t *Triggers) bookingParams(b *models.CarBooking) map[string]interface{} {
	return map[string]interface{}{
		"Date":        t.formatDate(b.DateOfUse),
		"TimeSlot":    b.TimeSlot,
		"Destination": b.Destination,
		"CarLabel":    b.CarLabel,
	}
}

func (t *Triggers) CarBookingApproved(ctx context.Context, b *models.CarBooking) DispatchResult {
	recipient := t.profile(ctx, b.UserID)
	if recipient != nil {
		t.webhook.Notify(fmt.Sprintf("🚗 Car booking approved for %s on %s", recipient.DisplayName(), t.formatDate(b.DateOfUse)))
	}
	return t.notify(ctx, "car_booking_approved", Dispatch{
		Recipient: recipient,
		EventKey:  EventCarBookings,
		Type:      TypeApproval,
		Title:     "Car booking approved",
		Message:   fmt.Sprintf("Your car booking for %s has been approved.", t.formatDate(b.DateOfUse)),
		Link:      t.link("/car-bookings"),
		Metadata:  map[string]interface{}{"booking_id": b.ID},
		Category:  "car",
		Email:     &EmailSpec{Template: TemplateCarBookingApproved, Params: t.bookingParams(b)},
		Push:      &PushSpec{Data: map[string]interface{}{"booking_id": b.ID}},
	})
}

func (t *Triggers) CarBookingRejected(ctx context.Context, b *models.CarBooking, reason string) DispatchResult {
	params := t.bookingParams(b)
	params["Reason"] = reason
	message := fmt.Sprintf("Your car booking for %s was not approved.", t.formatDate(b.DateOfUse))
	if reason != "" {
		message += " Reason: " + reason
	}
	return t.notify(ctx, "car_booking_rejected", Dispatch{
		Recipient: t.profile(ctx, b.UserID),
		EventKey:  EventCarBookings,
		Type:      TypeRejection,
		Title:     "Car booking rejected",
		Message:   message,
		Link:      t.link("/car-bookings"),
		Metadata:  map[string]interface{}{"booking_id": b.ID, "reason": reason},
		Category:  "car",
		Email:     &EmailSpec{Template: TemplateCarBookingRejected, Params: params},
		Push:      &PushSpec{Data: map[string]interface{}{"booking_id": b.ID}},
	})
}

// AnnouncementCreated notifies every active user.
func (t *Triggers) AnnouncementCreated(ctx context.Context, a *models.Announcement) FanOutResult {
	users, err := t.activeProfiles(ctx, "")
	if err != nil {
		logrus.WithError(err).WithField("trigger", "announcement").Error("Failed to load recipients")
		return FanOutResult{Errors: []string{err.Error()}}
	}

	dispatches := make([]Dispatch, 0, len(users))
	for i := range users {
		dispatches = append(dispatches, Dispatch{
			Recipient: &users[i],
			EventKey:  EventAnnouncements,
			Type:      TypeAnnouncement,
			Title:     a.Title,
			Message:   a.Content,
			Link:      t.link("/announcements"),
			Metadata:  map[string]interface{}{"announcement_id": a.ID},
			Category:  "announcement",
			Email: &EmailSpec{Template: TemplateAnnouncement, Params: map[string]interface{}{
				"Title":   a.Title,
				"Content": a.Content,
			}},
			Push: &PushSpec{Title: "📢 " + a.Title, Data: map[string]interface{}{"announcement_id": a.ID}},
		})
	}
	return t.notifyAll(ctx, "announcement", dispatches)
}

func (t *Triggers) LoginAlert(ctx context.Context, userID, ipAddress, userAgent string, at time.Time) DispatchResult {
	when := at.In(t.opts.Location).Format("02 Jan 2006 15:04 MST")
	return t.notify(ctx, "login_alert", Dispatch{
		Recipient: t.profile(ctx, userID),
		EventKey:  EventLoginAlerts,
		Type:      TypeSecurity,
		Title:     "New sign-in",
		Message:   fmt.Sprintf("Your account was signed in to on %s.", when),
		Link:      t.link("/settings"),
		Metadata:  map[string]interface{}{"ip_address": ipAddress, "user_agent": userAgent},
		Category:  "security",
		Priority:  "high",
		Email: &EmailSpec{Template: TemplateLoginAlert, Params: map[string]interface{}{
			"Time":      when,
			"IPAddress": ipAddress,
			"UserAgent": userAgent,
		}},
	})
}

// welcomeDay is the receipt day of the one-off welcome message.
const welcomeDay = "once"

// Welcome is sent once per user after signup and ignores stored preferences.
// Repeated calls are reported with every channel skipped.
func (t *Triggers) Welcome(ctx context.Context, userID string) DispatchResult {
	recipient := t.profile(ctx, userID)
	if recipient != nil {
		receipt := models.SweepReceipt{UserID: recipient.ID, Type: TypeWelcome, Day: welcomeDay}
		res := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt)
		switch {
		case res.Error != nil:
			logrus.WithError(res.Error).WithField("user_id", recipient.ID).Error("Failed to record welcome receipt")
		case res.RowsAffected == 0:
			logrus.WithField("user_id", recipient.ID).Debug("Welcome already sent")
			return DispatchResult{UserID: recipient.ID, InApp: StatusSkipped, Email: StatusSkipped, Push: StatusSkipped}
		}
		t.webhook.Notify(fmt.Sprintf("👋 New signup: %s (%s)", recipient.DisplayName(), recipient.Email))
	}
	return t.notify(ctx, "welcome", Dispatch{
		Recipient:       recipient,
		EventKey:        EventSystem,
		Type:            TypeWelcome,
		Title:           "Welcome!",
		Message:         "Your account is ready. Start by requesting gear or booking a car.",
		Link:            t.link("/dashboard"),
		Category:        "system",
		Email:           &EmailSpec{Template: TemplateWelcome},
		SkipPreferences: true,
	})
}

// OverdueSweep sends each user with overdue gear at most one reminder per day.
func (t *Triggers) OverdueSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	var overdue []models.GearRequest
	err := t.db.WithContext(ctx).
		Where("status IN ? AND due_date IS NOT NULL AND due_date < ?",
			[]models.RequestStatus{models.RequestStatusApproved, models.RequestStatusCheckedOut}, now).
		Order("due_date ASC").
		Find(&overdue).Error
	if err != nil {
		return result, fmt.Errorf("load overdue requests: %w", err)
	}

	byUser := map[string][]models.GearRequest{}
	var order []string
	for _, req := range overdue {
		if _, ok := byUser[req.UserID]; !ok {
			order = append(order, req.UserID)
		}
		byUser[req.UserID] = append(byUser[req.UserID], req)
	}
	result.Candidates = len(order)

	today := now.In(t.opts.Location)
	var dispatches []Dispatch
	for _, userID := range order {
		claimed, err := t.claim(ctx, userID, TypeOverdue, today, "", nil)
		if err != nil {
			logrus.WithError(err).WithField("user_id", userID).Error("Overdue idempotency check failed")
			result.Skipped++
			continue
		}
		if !claimed {
			result.Skipped++
			continue
		}

		requests := byUser[userID]
		items := make([]map[string]interface{}, 0, len(requests))
		names := make([]string, 0, len(requests))
		ids := make([]string, 0, len(requests))
		for _, req := range requests {
			items = append(items, map[string]interface{}{"GearName": req.GearName, "DueDate": t.formatDate(*req.DueDate)})
			names = append(names, req.GearName)
			ids = append(ids, req.ID)
		}

		message := fmt.Sprintf("%s is overdue. Please return it as soon as possible.", names[0])
		if len(names) > 1 {
			message = fmt.Sprintf("You have %d overdue items. Please return them as soon as possible.", len(names))
		}

		dispatches = append(dispatches, Dispatch{
			Recipient: t.profile(ctx, userID),
			EventKey:  EventOverdueReminders,
			Type:      TypeOverdue,
			Title:     "Overdue gear",
			Message:   message,
			Link:      t.link("/requests"),
			Metadata:  map[string]interface{}{"request_ids": ids, "gear_names": names},
			Category:  "gear",
			Priority:  "high",
			Email: &EmailSpec{Template: TemplateOverdue, Params: map[string]interface{}{
				"Count": len(items),
				"Items": items,
			}},
			Push: &PushSpec{Data: map[string]interface{}{"request_ids": ids}},
		})
	}

	result.Notified = t.notifyAll(ctx, "overdue_sweep", dispatches)
	return result, nil
}

// ReminderSweep reminds users of approved car bookings starting within the window,
// once per booking per day.
func (t *Triggers) ReminderSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	var bookings []models.CarBooking
	err := t.db.WithContext(ctx).
		Where("status = ? AND date_of_use >= ? AND date_of_use <= ?", models.RequestStatusApproved, now, now.Add(t.opts.ReminderWindow)).
		Order("date_of_use ASC").
		Find(&bookings).Error
	if err != nil {
		return result, fmt.Errorf("load upcoming bookings: %w", err)
	}
	result.Candidates = len(bookings)

	today := now.In(t.opts.Location)
	var dispatches []Dispatch
	for i := range bookings {
		b := &bookings[i]
		sameBooking := func(metadata map[string]interface{}) bool {
			return metadata["booking_id"] == b.ID
		}
		claimed, err := t.claim(ctx, b.UserID, TypeReminder, today, b.ID, sameBooking)
		if err != nil {
			logrus.WithError(err).WithField("booking_id", b.ID).Error("Reminder idempotency check failed")
			result.Skipped++
			continue
		}
		if !claimed {
			result.Skipped++
			continue
		}

		params := t.bookingParams(b)
		dispatches = append(dispatches, Dispatch{
			Recipient: t.profile(ctx, b.UserID),
			EventKey:  EventReservationReminders,
			Type:      TypeReminder,
			Title:     "Upcoming car booking",
			Message:   fmt.Sprintf("Reminder: you have a car booked for %s.", params["Date"]),
			Link:      t.link("/car-bookings"),
			Metadata:  map[string]interface{}{"booking_id": b.ID},
			Category:  "car",
			Email:     &EmailSpec{Template: TemplateReservationReminder, Params: params},
			Push:      &PushSpec{Data: map[string]interface{}{"booking_id": b.ID}},
		})
	}

	result.Notified = t.notifyAll(ctx, "reminder_sweep", dispatches)
	return result, nil
}

// claim reports whether this sweep may notify userID for kind today. It looks for an
// existing notification first, then records a receipt so that users without in-app
// notifications are covered too.
func (t *Triggers) claim(ctx context.Context, userID, kind string, today time.Time, refID string, match func(map[string]interface{}) bool) (bool, error) {
	exists, err := t.writer.ExistsOnDay(ctx, userID, kind, today, match)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	receipt := models.SweepReceipt{UserID: userID, Type: kind, Day: today.Format("2006-01-02"), RefID: refID}
	res := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt)
	if res.Error != nil {
		return false, fmt.Errorf("record sweep receipt: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (t *Triggers) notify(ctx context.Context, trigger string, d Dispatch) DispatchResult {
	res := t.notifier.Notify(ctx, d)
	entry := logrus.WithFields(logrus.Fields{
		"trigger": trigger,
		"user_id": res.UserID,
		"in_app":  res.InApp,
		"email":   res.Email,
		"push":    res.Push,
	})
	if len(res.Errors) > 0 {
		entry.WithField("errors", res.Errors).Warn("Notification partially failed")
	} else {
		entry.Debug("Notification dispatched")
	}
	return res
}

func (t *Triggers) notifyAll(ctx context.Context, trigger string, dispatches []Dispatch) FanOutResult {
	res := t.notifier.NotifyAll(ctx, dispatches)
	entry := logrus.WithFields(logrus.Fields{
		"trigger":   trigger,
		"total":     res.Total,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
	})
	if res.Failed > 0 {
		entry.WithField("errors", res.Errors).Warn("Fan-out finished with failures")
	} else {
		entry.Info("Fan-out finished")
	}
	return res
}
