package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/hothouse-labs/hothouse/pkg/health"
	"github.com/hothouse-labs/hothouse/pkg/store"
)

// AdminStore is the slice of the store the admin API reads and edits.
// Rule editing lives here: the session protocol itself only ever reads
// rules.
type AdminStore interface {
	Ping() error
	DeviceCount() (int64, error)
	ListDevices() ([]store.Device, error)
	DeviceByUUID(uuid string) (*store.Device, error)
	CurrentReadings(deviceUUID string) ([]store.Reading, error)
	History(deviceUUID, parameter string, limit int) ([]store.ReadingHistory, error)
	ListRules() ([]store.Rule, error)
	CreateRule(rule *store.Rule) error
	SetRuleActive(id uint, active bool) error
	DeleteRule(id uint) error
}

// AdminAPI is the HTTP surface the cli talks to.
type AdminAPI struct {
	store    AdminStore
	sessions func() int
	log      zerolog.Logger
}

func NewAdminAPI(store AdminStore, sessions func() int, log zerolog.Logger) *AdminAPI {
	return &AdminAPI{store: store, sessions: sessions, log: log}
}

// Router builds the gin engine with all admin routes registered.
func (a *AdminAPI) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), withRequestContext(a.log))

	r.GET("/v1/health", a.handleHealth)
	r.GET("/v1/devices", a.handleListDevices)
	r.GET("/v1/devices/:uuid", a.handleGetDevice)
	r.GET("/v1/devices/:uuid/history", a.handleHistory)
	r.GET("/v1/rules", a.handleListRules)
	r.POST("/v1/rules", a.handleCreateRule)
	r.PATCH("/v1/rules/:id", a.handleUpdateRule)
	r.DELETE("/v1/rules/:id", a.handleDeleteRule)
	return r
}

func (a *AdminAPI) handleHealth(c *gin.Context) {
	status := health.Check(a.store, a.sessions)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (a *AdminAPI) handleListDevices(c *gin.Context) {
	devices, err := a.store.ListDevices()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list devices", a.log)
		return
	}
	c.JSON(http.StatusOK, devices)
}

func (a *AdminAPI) handleGetDevice(c *gin.Context) {
	uuid := c.Param("uuid")
	device, err := a.store.DeviceByUUID(uuid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "device not found", a.log)
			return
		}
		respondError(c, http.StatusInternalServerError, "device lookup failed", a.log)
		return
	}
	readings, err := a.store.CurrentReadings(uuid)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "readings lookup failed", a.log)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": device, "readings": readings})
}

func (a *AdminAPI) handleHistory(c *gin.Context) {
	parameter := c.Query("parameter")
	if parameter == "" {
		respondError(c, http.StatusBadRequest, "parameter is required", a.log)
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(c, http.StatusBadRequest, "invalid limit", a.log)
			return
		}
		limit = n
	}
	rows, err := a.store.History(c.Param("uuid"), parameter, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "history lookup failed", a.log)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (a *AdminAPI) handleListRules(c *gin.Context) {
	rules, err := a.store.ListRules()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list rules", a.log)
		return
	}
	c.JSON(http.StatusOK, rules)
}

type createRuleRequest struct {
	SourceDeviceUUID string `json:"source_device_uuid" binding:"required"`
	SourceParameter  string `json:"source_parameter" binding:"required"`
	Condition        string `json:"condition" binding:"required"`
	Threshold        int    `json:"threshold"`
	TargetDeviceUUID string `json:"target_device_uuid" binding:"required"`
	Message          string `json:"message" binding:"required"`
	Active           bool   `json:"active"`
}

func (a *AdminAPI) handleCreateRule(c *gin.Context) {
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error(), a.log)
		return
	}
	condition := store.Condition(req.Condition)
	if !condition.Valid() {
		respondError(c, http.StatusBadRequest, "condition must be one of GT, LT, EQ, NE", a.log)
		return
	}
	rule := store.Rule{
		SourceDeviceUUID: req.SourceDeviceUUID,
		SourceParameter:  req.SourceParameter,
		Condition:        condition,
		Threshold:        req.Threshold,
		TargetDeviceUUID: req.TargetDeviceUUID,
		Message:          req.Message,
		Active:           req.Active,
	}
	if err := a.store.CreateRule(&rule); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to create rule", a.log)
		return
	}
	logger := requestLogger(c, a.log)
	logger.Info().Uint("rule_id", rule.ID).Msg("Rule created")
	c.JSON(http.StatusCreated, rule)
}

func (a *AdminAPI) handleUpdateRule(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid rule id", a.log)
		return
	}
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error(), a.log)
		return
	}
	if err := a.store.SetRuleActive(id, *req.Active); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "rule not found", a.log)
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to update rule", a.log)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": *req.Active})
}

func (a *AdminAPI) handleDeleteRule(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid rule id", a.log)
		return
	}
	if err := a.store.DeleteRule(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "rule not found", a.log)
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to delete rule", a.log)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseUintParam(raw string) (uint, error) {
	id64, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id64), nil
}
