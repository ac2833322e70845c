package store

import "time"

// Device is the gateway-owned record of a registered device. The uuid is
// issued once at registration and never changes afterwards.
type Device struct {
	ID                uint   `gorm:"primaryKey"`
	UUID              string `gorm:"uniqueIndex"`
	Name              string
	Sector            int
	LastCommunication time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Reading is the current value of one (device, parameter) pair. Writes
// are upserts; the previous value is superseded in place.
type Reading struct {
	ID         uint   `gorm:"primaryKey"`
	DeviceUUID string `gorm:"uniqueIndex:idx_device_parameter"`
	Parameter  string `gorm:"uniqueIndex:idx_device_parameter"`
	Value      int
	UpdatedAt  time.Time
}

// ReadingHistory is the append-only trail behind Reading. Rows are never
// mutated or reordered once written.
type ReadingHistory struct {
	ID         uint   `gorm:"primaryKey"`
	DeviceUUID string `gorm:"index"`
	Parameter  string
	Value      int
	RecordedAt time.Time `gorm:"index"`
}

// Condition is a rule's comparison operator.
type Condition string

const (
	ConditionGT Condition = "GT"
	ConditionLT Condition = "LT"
	ConditionEQ Condition = "EQ"
	ConditionNE Condition = "NE"
)

// Matches reports whether value satisfies the condition against the
// threshold. Unknown conditions never match.
func (c Condition) Matches(value, threshold int) bool {
	switch c {
	case ConditionGT:
		return value > threshold
	case ConditionLT:
		return value < threshold
	case ConditionEQ:
		return value == threshold
	case ConditionNE:
		return value != threshold
	default:
		return false
	}
}

// Valid reports whether c is one of the four supported operators.
func (c Condition) Valid() bool {
	switch c {
	case ConditionGT, ConditionLT, ConditionEQ, ConditionNE:
		return true
	}
	return false
}

// Rule links a source reading to a command for a target device. The
// message carries the command verbatim, optionally followed by
// "~<delay>" to override the response delay. Evaluation order is
// creation order, i.e. ascending primary key.
type Rule struct {
	ID               uint   `gorm:"primaryKey"`
	SourceDeviceUUID string `gorm:"index"`
	SourceParameter  string
	Condition        Condition
	Threshold        int
	TargetDeviceUUID string `gorm:"index"`
	Message          string
	Active           bool
	CreatedAt        time.Time
}

// Indicator is one measurable quantity of a greenhouse sector. Sensors
// sample indicators; actuators nudge them one unit at a time.
type Indicator struct {
	ID        uint   `gorm:"primaryKey"`
	Sector    int    `gorm:"uniqueIndex:idx_sector_name"`
	Name      string `gorm:"uniqueIndex:idx_sector_name"`
	Value     int
	UpdatedAt time.Time
}
