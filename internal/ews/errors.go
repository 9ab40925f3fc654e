package ews

import (
	"fmt"
	"net/http"
)

// EWS response codes the sync engine reacts to
const (
	CodeNoError                 = "NoError"
	CodeItemNotFound            = "ErrorItemNotFound"
	CodeFolderNotFound          = "ErrorFolderNotFound"
	CodeInvalidSyncStateData    = "ErrorInvalidSyncStateData"
	CodeServerBusy              = "ErrorServerBusy"
	CodeTimeoutExpired          = "ErrorTimeoutExpired"
	CodeInternalServerTransient = "ErrorInternalServerTransientError"
	CodeMailboxStoreUnavailable = "ErrorMailboxStoreUnavailable"
	CodeNameResolutionNoResults = "ErrorNameResolutionNoResults"
	CodeNameResolutionMultiple  = "ErrorNameResolutionMultipleResults"
	CodeAccessDenied            = "ErrorAccessDenied"
	CodeIrresolvableConflict    = "ErrorIrresolvableConflict"
	CodeNoEndpoint              = "ErrorNoEndpoint"
	CodeAutodiscoverFailed      = "ErrorAutodiscoverFailed"
	CodeInvalidResponse         = "ErrorInvalidResponse"
	CodeSOAPFault               = "SOAPFault"
)

// Error is a failed EWS request or response message
type Error struct {
	// StatusCode is the HTTP status, 0 when no response was received
	StatusCode int
	// Code is the EWS response code or SOAP fault code
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("ews: %s: %s", e.Code, e.Message)
	case e.Code != "":
		return "ews: " + e.Code
	case e.StatusCode != 0:
		return fmt.Sprintf("ews: HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	case e.Err != nil:
		return "ews: " + e.Err.Error()
	default:
		return "ews: request failed"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unauthorized reports whether the server rejected the credentials
func (e *Error) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden || e.Code == CodeAccessDenied
}

// NotFound reports whether the addressed item, folder or endpoint is gone
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.Code == CodeItemNotFound || e.Code == CodeFolderNotFound
}

// Temporary reports whether retrying the same request may succeed
func (e *Error) Temporary() bool {
	switch e.Code {
	case CodeServerBusy, CodeTimeoutExpired, CodeInternalServerTransient, CodeMailboxStoreUnavailable:
		return true
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 && e.Code == "" {
		return true
	}
	// transport failures without a response
	return e.StatusCode == 0 && e.Code == "" && e.Err != nil
}
