package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

type IDType string

const (
	IDTypeEvent      IDType = "evt"
	IDTypeRequest    IDType = "req"
	IDTypeWorkflow   IDType = "wf"
	IDTypeSubmission IDType = "sub"
)

var validIDTypes = map[IDType]bool{
	IDTypeEvent:      true,
	IDTypeRequest:    true,
	IDTypeWorkflow:   true,
	IDTypeSubmission: true,
}

var idRegex = regexp.MustCompile(`^(evt|req|wf|sub)_[0-9]{10}_[0-9a-f]{8}$`)

var taskIDRegex = regexp.MustCompile(
	`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// GenerateID builds a typed identifier of the form <type>_<unix>_<hex>.
func GenerateID(idType IDType) (string, error) {
	if !validIDTypes[idType] {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}

	timestamp := time.Now().Unix()
	hexStr, err := RandomHex(4)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s_%010d_%s", idType, timestamp, hexStr), nil
}

// NewUUID returns a random version-4 UUID string.
func NewUUID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}

// NewTaskID returns a fresh task identifier in the UUID shape.
func NewTaskID() (string, error) {
	return NewUUID()
}

// RandomHex returns n random bytes as a lower-case hex string.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}

func ValidateTaskID(id string) bool {
	return taskIDRegex.MatchString(id)
}

func ParseIDType(id string) (IDType, error) {
	if !ValidateID(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	match := idRegex.FindStringSubmatch(id)
	return IDType(match[1]), nil
}

func ParseIDTimestamp(id string) (time.Time, error) {
	if !ValidateID(id) {
		return time.Time{}, fmt.Errorf("invalid ID format: %s", id)
	}
	// Timestamp portion: 10 digits between the two separators.
	tsStr := id[len(id)-19 : len(id)-9]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp from ID %s: %w", id, err)
	}
	return time.Unix(ts, 0), nil
}
