package entity

import (
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

// FileInfo tracks one submitted source file inside a task.
type FileInfo struct {
	Name     string              `json:"name"`
	MIMEType string              `json:"mime_type"`
	Size     int                 `json:"size"`
	Hash     string              `json:"hash"`
	Pages    int                 `json:"pages"`
	State    constants.FileState `json:"state"`
	Error    string              `json:"error,omitempty"`
}

// Task is one submitted batch.
type Task struct {
	ID        string               `json:"id"`
	Status    constants.TaskStatus `json:"status"`
	Progress  int                  `json:"progress"`
	Message   string               `json:"message"`
	Files     []FileInfo           `json:"files"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	ResultKey string               `json:"result_key,omitempty"` // set only when Completed
}

// Clone returns a deep copy safe to hand to readers.
func (t Task) Clone() Task {
	out := t
	out.Files = append([]FileInfo(nil), t.Files...)
	return out
}

// StatusView is what polling clients see.
type StatusView struct {
	TaskID   string               `json:"task_id"`
	Status   constants.TaskStatus `json:"status"`
	Progress int                  `json:"progress"`
	Message  string               `json:"message"`
}

// View projects the task onto the polling view.
func (t Task) View() StatusView {
	return StatusView{TaskID: t.ID, Status: t.Status, Progress: t.Progress, Message: t.Message}
}

// FileOutcome is the terminal per-file result: a record, or a failure reason.
type FileOutcome struct {
	File     FileInfo
	Record   *ExtractedRecord
	Key      string   // validation key, empty for failed files
	Warnings []string // validation warnings, nil for failed files
	Failure  string
}

// Failed reports whether the file produced no record.
func (o FileOutcome) Failed() bool { return o.Record == nil }

// ValidationResult maps a record key to its ordered warnings. An empty slice means no issues.
type ValidationResult map[string][]string

// Anomaly lists why a record looks suspicious. Flags keep a fixed check order.
type Anomaly struct {
	InvoiceID string   `json:"invoice_id"`
	Source    string   `json:"source"`
	Flags     []string `json:"flags"`
}

// TaskResult is everything exposed once a task is Completed.
type TaskResult struct {
	TaskID     string           `json:"task_id"`
	Rows       int              `json:"rows"`
	Failed     int              `json:"failed"`
	CSVKey     string           `json:"csv_key"`
	XLSXKey    string           `json:"xlsx_key"`
	Validation ValidationResult `json:"validation"`
	Anomalies  []Anomaly        `json:"anomalies"`
	CreatedAt  time.Time        `json:"created_at"`
}
