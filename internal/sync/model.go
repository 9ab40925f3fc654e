// Package sync runs account sync passes: folder-list reconciliation, then a
// pull and push exchange per pending folder, with sync logs and progress
// events for the terminal view.
package sync

import (
	"time"
)

// Scope is what a sync log row describes
type Scope string

const (
	ScopeAccount Scope = "account"
	ScopeFolder  Scope = "folder"
)

// SyncLog represents a log entry for an account pass or a folder sync
type SyncLog struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	AccountID    string    `json:"account_id"`
	FolderID     string    `json:"folder_id,omitempty"`
	Scope        Scope     `json:"scope"`
	Status       string    `json:"status"`
	Success      bool      `json:"success"`
	Pulled       int       `json:"pulled"`
	Pushed       int       `json:"pushed"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// NewSyncLog creates a new sync log entry
func NewSyncLog(runID string, scope Scope, accountID, folderID string) *SyncLog {
	now := time.Now().UTC()
	return &SyncLog{
		RunID:       runID,
		AccountID:   accountID,
		FolderID:    folderID,
		Scope:       scope,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// MarkSuccessful marks the sync log as successful
func (l *SyncLog) MarkSuccessful(pulled, pushed int) {
	l.Success = true
	l.Status = StatusOK
	l.Pulled = pulled
	l.Pushed = pushed
	l.CompletedAt = time.Now().UTC()
}

// MarkFailed marks the sync log as failed
func (l *SyncLog) MarkFailed(status string, err error) {
	l.Success = false
	l.Status = status
	if err != nil {
		l.ErrorMessage = err.Error()
	}
	l.CompletedAt = time.Now().UTC()
}

// Duration is the wall time of the logged sync
func (l *SyncLog) Duration() time.Duration {
	return l.CompletedAt.Sub(l.StartedAt)
}

// FolderResult is the outcome of one folder sync
type FolderResult struct {
	FolderID string
	Name     string
	Status   string
	Pulled   int
	Pushed   int
	Err      error
}

// OK reports whether the folder synced
func (r FolderResult) OK() bool {
	return r.Status == StatusOK
}

// Result contains the results of an account pass
type Result struct {
	AccountID string
	RunID     string
	Status    string
	Err       error
	Folders   []FolderResult
	Duration  time.Duration
}

// OK reports whether the account pass completed
func (r *Result) OK() bool {
	return r.Status == StatusOK
}

// Failed returns the folders that did not sync
func (r *Result) Failed() []FolderResult {
	var failed []FolderResult
	for _, f := range r.Folders {
		if !f.OK() {
			failed = append(failed, f)
		}
	}
	return failed
}

// Folder returns the result of a folder, if it was synced in this pass
func (r *Result) Folder(folderID string) (FolderResult, bool) {
	for _, f := range r.Folders {
		if f.FolderID == folderID {
			return f, true
		}
	}
	return FolderResult{}, false
}
