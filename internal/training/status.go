package training

import (
	"encoding/json"
	"os"
	"time"
)

// Status is the on-disk `.train_status.json` contents (spec.md §6.4).
type Status struct {
	Status    string    `json:"status"` // started | completed | failed
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid"`
	ModelPath string    `json:"model_path,omitempty"`
	Error     string    `json:"error,omitempty"`
}

const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

func writeStatus(path string, s Status) error {
	s.Timestamp = time.Now().UTC()
	s.PID = os.Getpid()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// ReadStatus reads and parses a profile's `.train_status.json`. A missing
// file is not an error: callers treat it as "never trained".
func ReadStatus(path string) (Status, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Status{}, false, nil
		}

		return Status{}, false, err
	}

	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return Status{}, false, err
	}

	return s, true, nil
}

// cooldownActive reports whether the profile's last training run failed
// within the cooldown window (spec.md §4.5 step 3, default 30 minutes).
func cooldownActive(path string, cooldown time.Duration) bool {
	status, ok, err := ReadStatus(path)
	if err != nil || !ok {
		return false
	}

	return status.Status == StatusFailed && time.Since(status.Timestamp) < cooldown
}
