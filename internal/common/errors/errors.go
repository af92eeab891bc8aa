// Package errors provides the standardized error taxonomy shared by the engine,
// the subscription ledger and the job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Admission errors, returned synchronously from CreateAction.
const (
	ErrCodeUnauthorizedCaller ErrorCode = "UNAUTHORIZED_CALLER"
	ErrCodeQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeCooldownActive     ErrorCode = "COOLDOWN_ACTIVE"
	ErrCodeDailyLimitExceeded ErrorCode = "DAILY_LIMIT_EXCEEDED"
	ErrCodeActionTypeDisabled ErrorCode = "ACTION_TYPE_DISABLED"
	ErrCodeUnsupportedTarget  ErrorCode = "UNSUPPORTED_TARGET"
	ErrCodeInvalidActionType  ErrorCode = "INVALID_ACTION_TYPE"
)

// Lifecycle errors: state-machine precondition violations.
const (
	ErrCodeActionNotFound         ErrorCode = "ACTION_NOT_FOUND"
	ErrCodeActionNotPending       ErrorCode = "ACTION_NOT_PENDING"
	ErrCodeActionNotApproved      ErrorCode = "ACTION_NOT_APPROVED"
	ErrCodeActionExpired          ErrorCode = "ACTION_EXPIRED"
	ErrCodeNotAuthorizedToExecute ErrorCode = "NOT_AUTHORIZED_TO_EXECUTE"
	ErrCodeActionNotCancellable   ErrorCode = "ACTION_NOT_CANCELLABLE"
)

// Dispatch errors, recorded on the action record rather than returned.
const (
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"
	ErrCodeExecutionFailed  ErrorCode = "EXECUTION_FAILED"
)

// Ledger errors.
const (
	ErrCodeInvalidTierParams     ErrorCode = "INVALID_TIER_PARAMS"
	ErrCodeAlreadySubscribed     ErrorCode = "ALREADY_SUBSCRIBED"
	ErrCodeTierInactive          ErrorCode = "TIER_INACTIVE"
	ErrCodeInsufficientFunds     ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeNoValidSubscription   ErrorCode = "NO_VALID_SUBSCRIPTION"
	ErrCodeNotOwner              ErrorCode = "NOT_OWNER"
	ErrCodeSubscriptionInactive  ErrorCode = "SUBSCRIPTION_INACTIVE"
	ErrCodeSubscriptionNotFound  ErrorCode = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeNoEarnings            ErrorCode = "NO_EARNINGS"
	ErrCodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrCodeStorageFailed         ErrorCode = "STORAGE_FAILED"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
	ErrCodeExternalServiceFailed ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout               ErrorCode = "TIMEOUT_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is matches any StandardError carrying the same code, so callers can use
// errors.Is(err, errors.ErrQuotaExceeded).
func (e *StandardError) Is(target error) bool {
	var t *StandardError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorizedCaller     = &StandardError{Code: ErrCodeUnauthorizedCaller}
	ErrQuotaExceeded          = &StandardError{Code: ErrCodeQuotaExceeded}
	ErrCooldownActive         = &StandardError{Code: ErrCodeCooldownActive}
	ErrDailyLimitExceeded     = &StandardError{Code: ErrCodeDailyLimitExceeded}
	ErrActionTypeDisabled     = &StandardError{Code: ErrCodeActionTypeDisabled}
	ErrUnsupportedTarget      = &StandardError{Code: ErrCodeUnsupportedTarget}
	ErrInvalidActionType      = &StandardError{Code: ErrCodeInvalidActionType}
	ErrActionNotFound         = &StandardError{Code: ErrCodeActionNotFound}
	ErrActionNotPending       = &StandardError{Code: ErrCodeActionNotPending}
	ErrActionNotApproved      = &StandardError{Code: ErrCodeActionNotApproved}
	ErrActionExpired          = &StandardError{Code: ErrCodeActionExpired}
	ErrNotAuthorizedToExecute = &StandardError{Code: ErrCodeNotAuthorizedToExecute}
	ErrActionNotCancellable   = &StandardError{Code: ErrCodeActionNotCancellable}
	ErrMalformedPayload       = &StandardError{Code: ErrCodeMalformedPayload}
	ErrExecutionFailed        = &StandardError{Code: ErrCodeExecutionFailed}
	ErrInvalidTierParams      = &StandardError{Code: ErrCodeInvalidTierParams}
	ErrAlreadySubscribed      = &StandardError{Code: ErrCodeAlreadySubscribed}
	ErrTierInactive           = &StandardError{Code: ErrCodeTierInactive}
	ErrInsufficientFunds      = &StandardError{Code: ErrCodeInsufficientFunds}
	ErrNoValidSubscription    = &StandardError{Code: ErrCodeNoValidSubscription}
	ErrNotOwner               = &StandardError{Code: ErrCodeNotOwner}
	ErrSubscriptionInactive   = &StandardError{Code: ErrCodeSubscriptionInactive}
	ErrSubscriptionNotFound   = &StandardError{Code: ErrCodeSubscriptionNotFound}
	ErrNoEarnings             = &StandardError{Code: ErrCodeNoEarnings}
	ErrInvalidRequest         = &StandardError{Code: ErrCodeInvalidRequest}
	ErrStorageFailed          = &StandardError{Code: ErrCodeStorageFailed}
)

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnauthorizedCallerError is returned when the request source is neither the owner nor a trusted source.
func NewUnauthorizedCallerError(caller, owner string) *StandardError {
	return newError(ErrCodeUnauthorizedCaller, "Caller is not an authorized request source",
		fmt.Sprintf("caller: %s, owner: %s", caller, owner), false)
}

// NewQuotaExceededError covers both "no live subscription" and "cycle quota used up".
func NewQuotaExceededError(owner string) *StandardError {
	return newError(ErrCodeQuotaExceeded, "Action quota exceeded or no valid subscription",
		fmt.Sprintf("owner: %s", owner), true)
}

// NewCooldownActiveError reports the remaining cooldown.
func NewCooldownActiveError(owner string, remaining time.Duration) *StandardError {
	e := newError(ErrCodeCooldownActive, "Cooldown between actions is still active",
		fmt.Sprintf("owner: %s, retryAfter: %s", owner, remaining), true)
	e.Metadata = map[string]interface{}{"retryAfterMs": remaining.Milliseconds()}
	return e
}

// NewDailyLimitExceededError reports the daily cap that was hit.
func NewDailyLimitExceededError(owner string, limit int64) *StandardError {
	return newError(ErrCodeDailyLimitExceeded, "Daily action limit reached",
		fmt.Sprintf("owner: %s, dailyLimit: %d", owner, limit), true)
}

func NewActionTypeDisabledError(actionType string) *StandardError {
	return newError(ErrCodeActionTypeDisabled, "Action type is disabled",
		fmt.Sprintf("actionType: %s", actionType), false)
}

func NewUnsupportedTargetError(address, protocolType string) *StandardError {
	return newError(ErrCodeUnsupportedTarget, "Target is not on the allow-list",
		fmt.Sprintf("address: %s, protocolType: %s", address, protocolType), false)
}

func NewInvalidActionTypeError(actionType string) *StandardError {
	return newError(ErrCodeInvalidActionType, "Unknown action type",
		fmt.Sprintf("actionType: %s", actionType), false)
}

func NewActionNotFoundError(actionID uint64) *StandardError {
	return newError(ErrCodeActionNotFound, "Action not found",
		fmt.Sprintf("actionId: %d", actionID), false)
}

func NewActionNotPendingError(actionID uint64, status string) *StandardError {
	return newError(ErrCodeActionNotPending, "Action is not pending",
		fmt.Sprintf("actionId: %d, status: %s", actionID, status), false)
}

func NewActionNotApprovedError(actionID uint64, status string) *StandardError {
	return newError(ErrCodeActionNotApproved, "Action is not approved",
		fmt.Sprintf("actionId: %d, status: %s", actionID, status), false)
}

func NewActionExpiredError(actionID uint64) *StandardError {
	return newError(ErrCodeActionExpired, "Approved action expired before execution",
		fmt.Sprintf("actionId: %d", actionID), false)
}

func NewNotAuthorizedToExecuteError(actionID uint64, caller string) *StandardError {
	return newError(ErrCodeNotAuthorizedToExecute, "Caller may not operate on this action",
		fmt.Sprintf("actionId: %d, caller: %s", actionID, caller), false)
}

func NewActionNotCancellableError(actionID uint64, status string) *StandardError {
	return newError(ErrCodeActionNotCancellable, "Action can no longer be cancelled",
		fmt.Sprintf("actionId: %d, status: %s", actionID, status), false)
}

func NewMalformedPayloadError(details string) *StandardError {
	return newError(ErrCodeMalformedPayload, "Action payload is malformed", details, false)
}

func NewExecutionFailedError(details string) *StandardError {
	return newError(ErrCodeExecutionFailed, "External execution failed", details, false)
}

func NewInvalidTierParamsError(details string) *StandardError {
	return newError(ErrCodeInvalidTierParams, "Invalid tier parameters", details, false)
}

func NewAlreadySubscribedError(owner string, subscriptionID uint64) *StandardError {
	return newError(ErrCodeAlreadySubscribed, "Owner already has a live subscription",
		fmt.Sprintf("owner: %s, subscriptionId: %d", owner, subscriptionID), false)
}

func NewTierInactiveError(tierID uint64) *StandardError {
	return newError(ErrCodeTierInactive, "Tier is not active",
		fmt.Sprintf("tierId: %d", tierID), false)
}

// NewInsufficientFundsError wraps the payment failure.
func NewInsufficientFundsError(err error) *StandardError {
	return newError(ErrCodeInsufficientFunds, "Funds transfer failed", err.Error(), false)
}

func NewNoValidSubscriptionError(owner string) *StandardError {
	return newError(ErrCodeNoValidSubscription, "No valid subscription for usage",
		fmt.Sprintf("owner: %s", owner), false)
}

func NewNotOwnerError(subscriptionID uint64, caller string) *StandardError {
	return newError(ErrCodeNotOwner, "Caller does not own the subscription",
		fmt.Sprintf("subscriptionId: %d, caller: %s", subscriptionID, caller), false)
}

func NewSubscriptionInactiveError(subscriptionID uint64) *StandardError {
	return newError(ErrCodeSubscriptionInactive, "Subscription is not active",
		fmt.Sprintf("subscriptionId: %d", subscriptionID), false)
}

func NewSubscriptionNotFoundError(subscriptionID uint64) *StandardError {
	return newError(ErrCodeSubscriptionNotFound, "Subscription not found",
		fmt.Sprintf("subscriptionId: %d", subscriptionID), false)
}

func NewNoEarningsError(owner string) *StandardError {
	return newError(ErrCodeNoEarnings, "No referral earnings to withdraw",
		fmt.Sprintf("owner: %s", owner), false)
}

func NewInvalidRequestError(details string) *StandardError {
	return newError(ErrCodeInvalidRequest, "Invalid request", details, false)
}

// NewStorageFailedError creates a retryable persistence error.
func NewStorageFailedError(operation string, err error) *StandardError {
	return newError(ErrCodeStorageFailed, "Storage operation failed",
		fmt.Sprintf("operation: %s, error: %s", operation, err.Error()), true)
}

// Generic constructors

func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalServiceFailed, fmt.Sprintf("External service '%s' error", service), err.Error(), true)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Service '%s' timeout", service), err.Error(), true)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended job retry count for a code. Business
// and lifecycle errors are never retried by the job engine.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStorageFailed,
		ErrCodeExternalServiceFailed:
		return 3

	case ErrCodeTimeout:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"errorCategory":     GetErrorCategory(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandardError extracts a StandardError from a wrapped chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the error code, or INTERNAL_ERROR for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable tells a caller whether retrying later may succeed.
func IsRetryable(err error) bool {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Retryable
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeUnauthorizedCaller, ErrCodeQuotaExceeded, ErrCodeCooldownActive,
		ErrCodeDailyLimitExceeded, ErrCodeActionTypeDisabled, ErrCodeUnsupportedTarget,
		ErrCodeInvalidActionType:
		return "ADMISSION"
	case ErrCodeActionNotFound, ErrCodeActionNotPending, ErrCodeActionNotApproved,
		ErrCodeActionExpired, ErrCodeNotAuthorizedToExecute, ErrCodeActionNotCancellable:
		return "LIFECYCLE"
	case ErrCodeMalformedPayload, ErrCodeExecutionFailed:
		return "DISPATCH"
	}

	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "TIER"),
		strings.Contains(codeStr, "SUBSCRI"),
		strings.Contains(codeStr, "FUNDS"),
		strings.Contains(codeStr, "OWNER"),
		strings.Contains(codeStr, "EARNINGS"):
		return "LEDGER"
	case strings.Contains(codeStr, "STORAGE"):
		return "STORAGE"
	case strings.Contains(codeStr, "TIMEOUT"), strings.Contains(codeStr, "EXTERNAL"):
		return "EXTERNAL"
	default:
		return "UNKNOWN"
	}
}
