package protocol

import (
	"strconv"
	"strings"
)

// NoUUID is the reserved identity sentinel a device presents before the
// gateway has ever issued it an identifier.
const NoUUID = "NO_UUID"

// StateField is the per-cycle control flag devices include in every
// reading snapshot. It is never persisted as a reading.
const StateField = "state"

// Auth reply statuses.
const (
	StatusRegistered = "registered"
	StatusAuthorized = "authorized"
)

// Credential is the first frame of every connection.
type Credential struct {
	Password string `json:"password"`
}

// Identity is the second frame: the device's name and its issued uuid,
// or NoUUID when the device has never been registered.
type Identity struct {
	DeviceName string `json:"device_name"`
	UUID       string `json:"uuid"`
}

// AuthReply answers a successful login. UUID is set only when the status
// is "registered".
type AuthReply struct {
	Status string `json:"status"`
	UUID   string `json:"uuid,omitempty"`
}

// Snapshot is one reading cycle: the state flag plus the current value of
// every indicator the device exposes.
type Snapshot map[string]int

// CommandBatch is the gateway's answer to a snapshot: the seconds the
// device should spend on this cycle and the commands to execute in order.
type CommandBatch struct {
	Delay    int      `json:"delay"`
	Commands []string `json:"commands"`
}

// Command is one parsed wire command. A command string is either a bare
// verb ("OPEN") or a verb with a signed load ("HEAT:3", "VENT:-2").
type Command struct {
	Verb string
	Load int
}

// ParseCommand splits a wire command into its verb and load. A missing or
// unparsable load is zero, which actuators treat as "hold for the cycle".
func ParseCommand(raw string) Command {
	verb, load, found := strings.Cut(raw, ":")
	cmd := Command{Verb: verb}
	if !found {
		return cmd
	}
	if n, err := strconv.Atoi(load); err == nil {
		cmd.Load = n
	}
	return cmd
}

// SplitRuleMessage separates a rule's message into the command forwarded
// verbatim to the device and the optional delay override carried after
// the "~". The second return is valid only when ok is true.
func SplitRuleMessage(message string) (command string, delay int, ok bool) {
	command, suffix, found := strings.Cut(message, "~")
	if !found {
		return command, 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return command, 0, false
	}
	return command, n, true
}
