package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"nest-server/config"
	"nest-server/database"
	"nest-server/models"
	"nest-server/services"
	"nest-server/utils"
)

const (
	jwtSecret  = "routes-test-secret"
	cronSecret = "routes-cron-secret"
)

type capturingEmailSender struct {
	mu   sync.Mutex
	sent []services.EmailMessage
}

func (s *capturingEmailSender) Send(ctx context.Context, msg services.EmailMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return "id-" + msg.To, nil
}

func (s *capturingEmailSender) to(address string) []services.EmailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []services.EmailMessage
	for _, msg := range s.sent {
		if msg.To == address {
			out = append(out, msg)
		}
	}
	return out
}

type acceptingPushSender struct {
	mu        sync.Mutex
	endpoints []string
}

func (s *acceptingPushSender) Send(ctx context.Context, sub *webpush.Subscription, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, sub.Endpoint)
	return nil
}

type RoutesSuite struct {
	suite.Suite
	db     *gorm.DB
	cfg    *config.Config
	email  *capturingEmailSender
	push   *acceptingPushSender
	router *gin.Engine
}

func TestRoutesSuite(t *testing.T) {
	suite.Run(t, new(RoutesSuite))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}},
		JWT:    config.JWTConfig{Secret: jwtSecret},
		Push: config.PushConfig{
			VAPIDPublicKey: "public-key",
			BatchSize:      10,
			MaxRetries:     3,
		},
		Jobs: config.JobsConfig{Timezone: "UTC", ReminderWindow: 24 * time.Hour},
		Cron: config.CronConfig{Secret: cronSecret},
		App:  config.ApplicationConfig{Name: "Nest", BaseURL: "https://nest.test"},
	}
}

func (s *RoutesSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	db, err := database.OpenInMemory()
	s.Require().NoError(err)
	s.db = db
	s.cfg = testConfig()
	s.email = &capturingEmailSender{}
	s.push = &acceptingPushSender{}

	writer := services.NewNotificationWriter(db, nil)
	notifier := services.NewNotifier(
		writer,
		services.NewEmailDispatcher(s.email, s.cfg.App, 2),
		services.NewPushEnqueuer(db, s.cfg.Push, ""),
		4,
	)
	triggers := services.NewTriggers(db, notifier, writer, services.NewChatWebhook(s.cfg.Webhook), services.TriggerOptions{
		BaseURL:        s.cfg.App.BaseURL,
		Location:       time.UTC,
		ReminderWindow: s.cfg.Jobs.ReminderWindow,
	})

	s.router = SetupRouter(Dependencies{
		DB:       db,
		Config:   s.cfg,
		Writer:   writer,
		Triggers: triggers,
		Worker:   services.NewPushWorker(db, s.push, s.cfg.Push),
	})

	s.createProfile("u1", "user@example.com", models.RoleUser)
	s.createProfile("u2", "other@example.com", models.RoleUser)
	s.createProfile("admin", "admin@example.com", models.RoleAdmin)
}

func (s *RoutesSuite) createProfile(id, email string, role models.UserRole) {
	s.Require().NoError(s.db.Create(&models.Profile{ID: id, Email: email, FullName: id, Role: role}).Error)
}

func (s *RoutesSuite) token(userID string) string {
	signed, err := utils.GenerateToken(jwtSecret, userID, userID+"@example.com", time.Hour)
	s.Require().NoError(err)
	return signed
}

func (s *RoutesSuite) do(method, path, userID string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	switch userID {
	case "":
	case "cron":
		req.Header.Set("Authorization", "Bearer "+cronSecret)
	default:
		req.Header.Set("Authorization", "Bearer "+s.token(userID))
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func subscription(endpoint string) map[string]interface{} {
	return map[string]interface{}{
		"endpoint": endpoint,
		"keys":     map[string]string{"p256dh": "p256dh-key", "auth": "auth-key"},
	}
}

func (s *RoutesSuite) notificationsFor(userID string) []models.Notification {
	var out []models.Notification
	s.Require().NoError(s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&out).Error)
	return out
}

func (s *RoutesSuite) TestHealth() {
	w, body := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("ok", body["database"])
}

func (s *RoutesSuite) TestNotificationsAreScopedToCaller() {
	writer := services.NewNotificationWriter(s.db, nil)
	ctx := context.Background()
	mine, err := writer.Write(ctx, services.NewNotification{UserID: "u1", Type: "System", Title: "one", Message: "m"})
	s.Require().NoError(err)
	_, err = writer.Write(ctx, services.NewNotification{UserID: "u1", Type: "System", Title: "two", Message: "m"})
	s.Require().NoError(err)
	theirs, err := writer.Write(ctx, services.NewNotification{UserID: "u2", Type: "System", Title: "three", Message: "m"})
	s.Require().NoError(err)

	w, body := s.do(http.MethodGet, "/api/v1/notifications", "u1", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Len(body["notifications"], 2)

	w, body = s.do(http.MethodGet, "/api/v1/notifications/unread-count", "u1", nil)
	s.Equal(http.StatusOK, w.Code)
	s.EqualValues(2, body["count"])

	w, _ = s.do(http.MethodPost, "/api/v1/notifications/mark-read/"+theirs.ID, "u1", nil)
	s.Equal(http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/notifications/mark-read/"+mine.ID, "u1", nil)
	s.Equal(http.StatusOK, w.Code)

	w, body = s.do(http.MethodGet, "/api/v1/notifications?unread=true", "u1", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Len(body["notifications"], 1)

	w, body = s.do(http.MethodPost, "/api/v1/notifications/mark-all-read", "u1", nil)
	s.Equal(http.StatusOK, w.Code)
	s.EqualValues(1, body["updated"])

	w, _ = s.do(http.MethodGet, "/api/v1/notifications?limit=abc", "u1", nil)
	s.Equal(http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/notifications", "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *RoutesSuite) TestPushSubscriptionLifecycle() {
	w, _ := s.do(http.MethodPost, "/api/v1/push/subscribe", "u1", map[string]string{"endpoint": "https://push.example/a"})
	s.Equal(http.StatusBadRequest, w.Code, "keys are required")

	w, _ = s.do(http.MethodPost, "/api/v1/push/subscribe", "u1", subscription("https://push.example/a"))
	s.Equal(http.StatusOK, w.Code)

	// same endpoint again, wrapped, replaces instead of duplicating
	w, _ = s.do(http.MethodPost, "/api/v1/push/subscribe", "u1", map[string]interface{}{"subscription": subscription("https://push.example/a")})
	s.Equal(http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/push/subscribe", "u1", subscription("https://push.example/b"))
	s.Equal(http.StatusOK, w.Code)

	w, body := s.do(http.MethodGet, "/api/v1/push/status", "u1", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal(true, body["subscribed"])
	s.EqualValues(2, body["subscriptions"])
	s.Equal("public-key", body["vapidPublicKey"])

	var tokens []models.UserPushToken
	s.Require().NoError(s.db.Where("user_id = ?", "u1").Find(&tokens).Error)
	s.Require().Len(tokens, 2)
	for _, t := range tokens {
		_, err := services.ParseSubscription(t.Token)
		s.NoError(err)
	}

	w, body = s.do(http.MethodPost, "/api/v1/push/unsubscribe", "u1", map[string]string{"endpoint": "https://push.example/a"})
	s.Equal(http.StatusOK, w.Code)
	s.EqualValues(1, body["removed"])

	w, body = s.do(http.MethodGet, "/api/v1/push/status", "u2", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal(false, body["subscribed"])
}

func (s *RoutesSuite) TestSubscribeKeepsUnrelatedLegacyTokens() {
	legacy := models.UserPushToken{UserID: "u1", Token: `{"endpoint":"https://push.example/legacy"}`}
	s.Require().NoError(s.db.Create(&legacy).Error)
	bare := models.UserPushToken{UserID: "u1", Token: "ExponentPushToken[abc]"}
	s.Require().NoError(s.db.Create(&bare).Error)

	w, _ := s.do(http.MethodPost, "/api/v1/push/subscribe", "u1", subscription("https://push.example/new-device"))
	s.Require().Equal(http.StatusOK, w.Code)

	var count int64
	s.Require().NoError(s.db.Model(&models.UserPushToken{}).Where("user_id = ?", "u1").Count(&count).Error)
	s.Equal(int64(3), count)

	w, body := s.do(http.MethodPost, "/api/v1/push/unsubscribe", "u1", map[string]string{"endpoint": "https://push.example/legacy"})
	s.Equal(http.StatusOK, w.Code)
	s.EqualValues(1, body["removed"])

	w, body = s.do(http.MethodPost, "/api/v1/push/unsubscribe", "u1", map[string]string{"endpoint": "ExponentPushToken[abc]"})
	s.Equal(http.StatusOK, w.Code)
	s.EqualValues(1, body["removed"])

	s.Require().NoError(s.db.Model(&models.UserPushToken{}).Where("user_id = ?", "u1").Count(&count).Error)
	s.Equal(int64(1), count)
}

func (s *RoutesSuite) TestPreferences() {
	w, body := s.do(http.MethodGet, "/api/v1/preferences", "u1", nil)
	s.Equal(http.StatusOK, w.Code)
	prefs := body["preferences"].(map[string]interface{})
	s.Equal(true, prefs["email"].(map[string]interface{})["gear_requests"])

	w, _ = s.do(http.MethodPut, "/api/v1/preferences", "u1", map[string]interface{}{
		"preferences": map[string]map[string]bool{"email": {"gear_requests": false}},
	})
	s.Equal(http.StatusOK, w.Code)

	var profile models.Profile
	s.Require().NoError(s.db.First(&profile, "id = ?", "u1").Error)
	s.False(services.ShouldNotify(&profile, services.ChannelEmail, services.EventGearRequests))
	s.True(services.ShouldNotify(&profile, services.ChannelPush, services.EventGearRequests))

	w, _ = s.do(http.MethodPut, "/api/v1/preferences", "u1", map[string]interface{}{
		"preferences": map[string]map[string]bool{"sms": {"gear_requests": false}},
	})
	s.Equal(http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPut, "/api/v1/preferences", "u1", map[string]interface{}{
		"preferences": map[string]map[string]bool{"email": {"birthdays": false}},
	})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RoutesSuite) TestGearRequestApprovalFlow() {
	w, _ := s.do(http.MethodPost, "/api/v1/push/subscribe", "u1", subscription("https://push.example/u1"))
	s.Require().Equal(http.StatusOK, w.Code)

	w, body := s.do(http.MethodPost, "/api/v1/requests", "u1", map[string]string{"gear_name": "Camera", "reason": "shoot"})
	s.Require().Equal(http.StatusCreated, w.Code)
	requestID := body["request"].(map[string]interface{})["id"].(string)

	adminNotes := s.notificationsFor("admin")
	s.Require().Len(adminNotes, 1)
	s.Equal(services.TypeRequest, adminNotes[0].Type)
	s.Len(s.email.to("admin@example.com"), 1)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/requests/"+requestID+"/approve", "u2", nil)
	s.Equal(http.StatusForbidden, w.Code)

	w, body = s.do(http.MethodPost, "/api/v1/admin/requests/"+requestID+"/approve", "admin", map[string]string{
		"admin_notes": "handle with care",
		"due_date":    "2030-01-15",
	})
	s.Require().Equal(http.StatusOK, w.Code)
	notification := body["notification"].(map[string]interface{})
	s.Equal("delivered", notification["in_app"])
	s.Equal("delivered", notification["email"])
	s.Equal("queued", notification["push"])

	var stored models.GearRequest
	s.Require().NoError(s.db.First(&stored, "id = ?", requestID).Error)
	s.Equal(models.RequestStatusApproved, stored.Status)
	s.Require().NotNil(stored.ApprovedBy)
	s.Equal("admin", *stored.ApprovedBy)
	s.Require().NotNil(stored.DueDate)

	userNotes := s.notificationsFor("u1")
	s.Require().Len(userNotes, 1)
	s.Equal(services.TypeApproval, userNotes[0].Type)
	s.Len(s.email.to("user@example.com"), 1)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/requests/"+requestID+"/approve", "admin", nil)
	s.Equal(http.StatusConflict, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/requests/missing/approve", "admin", nil)
	s.Equal(http.StatusNotFound, w.Code)

	// the admin has no subscription, the requester has one
	w, _ = s.do(http.MethodGet, "/api/push-worker", "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w, body = s.do(http.MethodGet, "/api/push-worker", "cron", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.EqualValues(2, body["processed"])
	s.EqualValues(1, body["sent"])
	s.EqualValues(1, body["failed"])
	s.Equal([]string{"https://push.example/u1"}, s.push.endpoints)
}

func (s *RoutesSuite) TestPushWorkerSurvivesCallerHangingUp() {
	s.Require().NoError(s.db.Create(&models.UserPushToken{UserID: "u1", Token: `{"endpoint":"https://push.example/u1","keys":{"p256dh":"p256dh-key","auth":"auth-key"}}`}).Error)
	job := models.PushQueueJob{UserID: "u1", Title: "Approved", Body: "Your request was approved", MaxRetries: 3}
	s.Require().NoError(s.db.Create(&job).Error)

	// the enqueuer's ping gives up after a short timeout
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/push-worker", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+cronSecret)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusOK, w.Code)

	var got models.PushQueueJob
	s.Require().NoError(s.db.First(&got, "id = ?", job.ID).Error)
	s.Equal(models.PushJobSent, got.Status)
	s.Equal([]string{"https://push.example/u1"}, s.push.endpoints)
}

func (s *RoutesSuite) TestRejectCarBookingWithReason() {
	booking := models.CarBooking{UserID: "u1", CarLabel: "Van", DateOfUse: time.Now().UTC().Add(72 * time.Hour), TimeSlot: "Morning"}
	s.Require().NoError(s.db.Create(&booking).Error)

	w, body := s.do(http.MethodPost, "/api/v1/admin/car-bookings/"+booking.ID+"/reject", "admin", map[string]string{"reason": "car in service"})
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(string(models.RequestStatusRejected), body["booking"].(map[string]interface{})["status"])

	notes := s.notificationsFor("u1")
	s.Require().Len(notes, 1)
	s.Equal(services.TypeRejection, notes[0].Type)
	s.Contains(notes[0].Message, "car in service")

	var metadata map[string]interface{}
	s.Require().NoError(json.Unmarshal(notes[0].Metadata, &metadata))
	s.Equal(booking.ID, metadata["booking_id"])
	s.Equal("car in service", metadata["reason"])
}

func (s *RoutesSuite) TestCheckinApprovalMarksRequestReturned() {
	req := models.GearRequest{UserID: "u1", GearName: "Tripod", Status: models.RequestStatusCheckedOut}
	s.Require().NoError(s.db.Create(&req).Error)

	w, body := s.do(http.MethodPost, "/api/v1/checkins", "u1", map[string]string{
		"request_id": req.ID,
		"gear_name":  "Tripod",
		"condition":  "Good",
	})
	s.Require().Equal(http.StatusCreated, w.Code)
	checkinID := body["checkin"].(map[string]interface{})["id"].(string)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/checkins/"+checkinID+"/approve", "admin", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var stored models.GearRequest
	s.Require().NoError(s.db.First(&stored, "id = ?", req.ID).Error)
	s.Equal(models.RequestStatusReturned, stored.Status)

	notes := s.notificationsFor("u1")
	s.Require().Len(notes, 1)
	s.Equal("Check-in approved", notes[0].Title)
}

func (s *RoutesSuite) TestAnnouncementReachesEveryActiveUser() {
	s.createProfile("u3", "inactive@example.com", models.RoleUser)
	s.Require().NoError(s.db.Model(&models.Profile{}).Where("id = ?", "u3").Update("status", models.ProfileStatusInactive).Error)

	w, body := s.do(http.MethodPost, "/api/v1/admin/announcements", "admin", map[string]string{
		"title":   "Office closed",
		"content": "Closed on Friday",
	})
	s.Require().Equal(http.StatusCreated, w.Code)
	notified := body["notified"].(map[string]interface{})
	s.EqualValues(3, notified["total"])
	s.EqualValues(3, notified["succeeded"])

	s.Len(s.notificationsFor("u1"), 1)
	s.Len(s.notificationsFor("u2"), 1)
	s.Len(s.notificationsFor("admin"), 1)
	s.Empty(s.notificationsFor("u3"))

	w, _ = s.do(http.MethodPost, "/api/v1/admin/announcements", "admin", map[string]string{"title": "no content"})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RoutesSuite) TestAuthEvents() {
	w, body := s.do(http.MethodPost, "/api/v1/auth/events/signup", "u1", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal("delivered", body["notification"].(map[string]interface{})["email"])

	w, body = s.do(http.MethodPost, "/api/v1/auth/events/signup", "u1", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal("skipped", body["notification"].(map[string]interface{})["email"])
	s.Len(s.email.to("user@example.com"), 1)

	prefs := services.Preferences{}
	prefs.Set(services.ChannelInApp, services.EventLoginAlerts, false)
	doc, err := prefs.JSON()
	s.Require().NoError(err)
	s.Require().NoError(s.db.Model(&models.Profile{}).Where("id = ?", "u1").Update("notification_preferences", doc).Error)

	w, body = s.do(http.MethodPost, "/api/v1/auth/events/login", "u1", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal("skipped", body["notification"].(map[string]interface{})["in_app"])

	notes := s.notificationsFor("u1")
	s.Require().Len(notes, 1)
	s.Equal(services.TypeWelcome, notes[0].Type)
}

func (s *RoutesSuite) TestOverdueCronIsIdempotent() {
	due := time.Now().UTC().Add(-72 * time.Hour)
	s.Require().NoError(s.db.Create(&models.GearRequest{
		UserID:   "u1",
		GearName: "Drone",
		Status:   models.RequestStatusApproved,
		DueDate:  &due,
	}).Error)

	w, body := s.do(http.MethodGet, "/api/cron/overdue", "cron", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	result := body["result"].(map[string]interface{})
	s.EqualValues(1, result["candidates"])
	s.EqualValues(0, result["skipped"])

	w, body = s.do(http.MethodGet, "/api/cron/overdue", "cron", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	result = body["result"].(map[string]interface{})
	s.EqualValues(1, result["skipped"])

	s.Len(s.notificationsFor("u1"), 1)
}

func (s *RoutesSuite) TestReminderCron() {
	booking := models.CarBooking{
		UserID:    "u2",
		CarLabel:  "Sedan",
		DateOfUse: time.Now().UTC().Add(3 * time.Hour),
		Status:    models.RequestStatusApproved,
	}
	s.Require().NoError(s.db.Create(&booking).Error)

	w, body := s.do(http.MethodGet, "/api/cron/reminders", "cron", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.EqualValues(1, body["result"].(map[string]interface{})["candidates"])

	notes := s.notificationsFor("u2")
	s.Require().Len(notes, 1)
	s.Equal(services.TypeReminder, notes[0].Type)
}

func TestPushWorkerEndpointWithoutWorker(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := database.OpenInMemory()
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Cron = config.CronConfig{}
	router := SetupRouter(Dependencies{DB: db, Config: cfg})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/push-worker", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORSConfig(t *testing.T) {
	cfg := corsConfig([]string{"https://app.example.com"})
	assert.Equal(t, []string{"https://app.example.com"}, cfg.AllowOrigins)
	assert.True(t, cfg.AllowCredentials)

	cfg = corsConfig([]string{"*"})
	assert.True(t, cfg.AllowAllOrigins)
	assert.False(t, cfg.AllowCredentials)
}
