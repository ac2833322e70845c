package store

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// DB is the sqlite-backed store shared by the gateway, the admin API and
// the device-side environment. Concurrent sessions funnel through gorm's
// connection handling; conflicting writes to the same key serialize on
// the unique indexes.
type DB struct {
	orm *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string) (*DB, error) {
	orm, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(orm)
}

// New wraps an existing gorm handle and migrates the schema. Tests use
// this with in-memory sqlite.
func New(orm *gorm.DB) (*DB, error) {
	if err := orm.AutoMigrate(&Device{}, &Reading{}, &ReadingHistory{}, &Rule{}, &Indicator{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &DB{orm: orm}, nil
}

// Ping verifies the underlying database connection is alive.
func (d *DB) Ping() error {
	sqlDB, err := d.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// DeviceCount returns the number of registered devices.
func (d *DB) DeviceCount() (int64, error) {
	var count int64
	err := d.orm.Model(&Device{}).Count(&count).Error
	return count, err
}

// UpsertDevice creates the device record on first registration. A device
// reconnecting under a known uuid keeps its record untouched except for
// the name, which follows the device.
func (d *DB) UpsertDevice(uuid, name string) error {
	dev := Device{UUID: uuid, Name: name, LastCommunication: time.Now().UTC()}
	return d.orm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&dev).Error
}

// TouchLastCommunication stamps the device's last-seen time.
func (d *DB) TouchLastCommunication(uuid string) error {
	return d.orm.Model(&Device{}).
		Where("uuid = ?", uuid).
		Update("last_communication", time.Now().UTC()).Error
}

// UpsertReadingBatch writes one reading cycle atomically: every current
// value is upserted and a history row appended, or nothing is written at
// all.
func (d *DB) UpsertReadingBatch(deviceUUID string, values map[string]int) error {
	if len(values) == 0 {
		return nil
	}
	params := make([]string, 0, len(values))
	for p := range values {
		params = append(params, p)
	}
	sort.Strings(params)

	now := time.Now().UTC()
	return d.orm.Transaction(func(tx *gorm.DB) error {
		for _, param := range params {
			current := Reading{
				DeviceUUID: deviceUUID,
				Parameter:  param,
				Value:      values[param],
				UpdatedAt:  now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "device_uuid"}, {Name: "parameter"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&current).Error; err != nil {
				return err
			}
			history := ReadingHistory{
				DeviceUUID: deviceUUID,
				Parameter:  param,
				Value:      values[param],
				RecordedAt: now,
			}
			if err := tx.Create(&history).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CurrentValue returns the current reading for one (device, parameter)
// pair. The second return is false when no reading has ever been stored.
func (d *DB) CurrentValue(deviceUUID, parameter string) (int, bool, error) {
	var reading Reading
	err := d.orm.Where("device_uuid = ? AND parameter = ?", deviceUUID, parameter).
		First(&reading).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return reading.Value, true, nil
}

// ActiveRulesForTarget lists every active rule aimed at the device, in
// creation order.
func (d *DB) ActiveRulesForTarget(deviceUUID string) ([]Rule, error) {
	var rules []Rule
	err := d.orm.Where("target_device_uuid = ? AND active = ?", deviceUUID, true).
		Order("id").
		Find(&rules).Error
	return rules, err
}

// ListDevices returns all registered devices, most recently seen first.
func (d *DB) ListDevices() ([]Device, error) {
	var devices []Device
	err := d.orm.Order("last_communication DESC").Find(&devices).Error
	return devices, err
}

// DeviceByUUID looks up a single device record.
func (d *DB) DeviceByUUID(uuid string) (*Device, error) {
	var device Device
	if err := d.orm.Where("uuid = ?", uuid).First(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

// CurrentReadings returns the latest value of every parameter the device
// has reported.
func (d *DB) CurrentReadings(deviceUUID string) ([]Reading, error) {
	var readings []Reading
	err := d.orm.Where("device_uuid = ?", deviceUUID).
		Order("parameter").
		Find(&readings).Error
	return readings, err
}

// History returns up to limit history rows for one parameter, newest
// first. A non-positive limit returns the full trail.
func (d *DB) History(deviceUUID, parameter string, limit int) ([]ReadingHistory, error) {
	q := d.orm.Where("device_uuid = ? AND parameter = ?", deviceUUID, parameter).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []ReadingHistory
	err := q.Find(&rows).Error
	return rows, err
}

// ListRules returns every rule in creation order, active or not.
func (d *DB) ListRules() ([]Rule, error) {
	var rules []Rule
	err := d.orm.Order("id").Find(&rules).Error
	return rules, err
}

// CreateRule persists a new rule. Rule editing is an administrative
// operation; the protocol itself only ever reads rules.
func (d *DB) CreateRule(rule *Rule) error {
	if !rule.Condition.Valid() {
		return fmt.Errorf("invalid condition %q", rule.Condition)
	}
	return d.orm.Create(rule).Error
}

// SetRuleActive toggles a rule without deleting its definition.
func (d *DB) SetRuleActive(id uint, active bool) error {
	res := d.orm.Model(&Rule{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteRule removes a rule permanently.
func (d *DB) DeleteRule(id uint) error {
	res := d.orm.Delete(&Rule{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IndicatorValue reads the current value of a sector indicator. A sector
// that has never been seeded reads as zero, matching the rule engine's
// absent-value default.
func (d *DB) IndicatorValue(sector int, name string) (int, error) {
	var ind Indicator
	err := d.orm.Where("sector = ? AND name = ?", sector, name).First(&ind).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ind.Value, nil
}

// ChangeIndicator applies one signed delta to a sector indicator as a
// single atomic update.
func (d *DB) ChangeIndicator(sector int, name string, delta int) error {
	return d.orm.Model(&Indicator{}).
		Where("sector = ? AND name = ?", sector, name).
		Updates(map[string]any{
			"value":      gorm.Expr("value + ?", delta),
			"updated_at": time.Now().UTC(),
		}).Error
}

// seedRange bounds the initial random value of one indicator kind.
type seedRange struct {
	name string
	min  int
	max  int
}

var defaultSeeds = []seedRange{
	{name: "temperature", min: 22, max: 28},
	{name: "humidity", min: 60, max: 90},
	{name: "brightness", min: 0, max: 100},
}

// SeedIndicators populates the indicator table for the given number of
// sectors when it is empty. Existing values are left alone so restarts
// keep the simulated greenhouse state.
func (d *DB) SeedIndicators(sectors int) error {
	var count int64
	if err := d.orm.Model(&Indicator{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	now := time.Now().UTC()
	for sector := 0; sector < sectors; sector++ {
		for _, seed := range defaultSeeds {
			ind := Indicator{
				Sector:    sector,
				Name:      seed.name,
				Value:     seed.min + rand.Intn(seed.max-seed.min+1),
				UpdatedAt: now,
			}
			if err := d.orm.Create(&ind).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
