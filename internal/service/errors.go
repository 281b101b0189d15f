package service

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindStateConflict Kind = "state_conflict"
	KindAuthorization Kind = "authorization"
	KindIntegrity     Kind = "integrity"
	KindArithmetic    Kind = "arithmetic"
	KindNotFound      Kind = "not_found"
	KindInvalid       Kind = "invalid"
	KindInternal      Kind = "internal"
)

const (
	CodeBountyNotOpen          = "BOUNTY_NOT_OPEN"
	CodeBountyNotSubmitted     = "BOUNTY_NOT_SUBMITTED"
	CodeBountyAlreadySubmitted = "BOUNTY_ALREADY_SUBMITTED"

	CodeUnauthorizedSettlement   = "UNAUTHORIZED_SETTLEMENT"
	CodeAttestationOwnerMismatch = "ATTESTATION_OWNER_MISMATCH"
	CodeReputationOwnerMismatch  = "REPUTATION_OWNER_MISMATCH"
	CodeTokenOwnerMismatch       = "TOKEN_OWNER_MISMATCH"
	CodeEscrowAuthorityMismatch  = "ESCROW_AUTHORITY_MISMATCH"

	CodeSolutionHashMismatch    = "SOLUTION_HASH_MISMATCH"
	CodeDuplicateAttestation    = "DUPLICATE_ATTESTATION"
	CodeMintMismatch            = "MINT_MISMATCH"
	CodeInsufficientEscrowFunds = "INSUFFICIENT_ESCROW_FUNDS"

	CodeReputationOverflow      = "REPUTATION_OVERFLOW"
	CodeReputationScoreOverflow = "REPUTATION_SCORE_OVERFLOW"
	CodeTokenBalanceOverflow    = "TOKEN_BALANCE_OVERFLOW"

	CodeBountyNotFound       = "BOUNTY_NOT_FOUND"
	CodeAttestationNotFound  = "ATTESTATION_NOT_FOUND"
	CodeReputationNotFound   = "REPUTATION_NOT_FOUND"
	CodeTokenAccountNotFound = "TOKEN_ACCOUNT_NOT_FOUND"
	CodeEventNotFound        = "EVENT_NOT_FOUND"

	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInternal     = "INTERNAL_ERROR"
)

type codeInfo struct {
	kind    Kind
	status  int
	message string
}

var codeTable = map[string]codeInfo{
	CodeBountyNotOpen:          {KindStateConflict, http.StatusConflict, "bounty is not open"},
	CodeBountyNotSubmitted:     {KindStateConflict, http.StatusConflict, "bounty has no pending submission"},
	CodeBountyAlreadySubmitted: {KindStateConflict, http.StatusConflict, "bounty already has a solution"},

	CodeUnauthorizedSettlement:   {KindAuthorization, http.StatusForbidden, "only the bounty creator may settle"},
	CodeAttestationOwnerMismatch: {KindAuthorization, http.StatusForbidden, "attestation belongs to another agent"},
	CodeReputationOwnerMismatch:  {KindAuthorization, http.StatusForbidden, "reputation record belongs to another agent"},
	CodeTokenOwnerMismatch:       {KindAuthorization, http.StatusForbidden, "token account has the wrong owner"},
	CodeEscrowAuthorityMismatch:  {KindAuthorization, http.StatusForbidden, "escrow is not owned by the bounty"},

	CodeSolutionHashMismatch:    {KindIntegrity, http.StatusUnprocessableEntity, "solution hash does not match attestation"},
	CodeDuplicateAttestation:    {KindIntegrity, http.StatusConflict, "task already has an attestation"},
	CodeMintMismatch:            {KindIntegrity, http.StatusUnprocessableEntity, "token account holds a different mint"},
	CodeInsufficientEscrowFunds: {KindIntegrity, http.StatusUnprocessableEntity, "escrow balance is below the reward"},

	CodeReputationOverflow:      {KindArithmetic, http.StatusUnprocessableEntity, "reputation counter overflow"},
	CodeReputationScoreOverflow: {KindArithmetic, http.StatusUnprocessableEntity, "reputation score overflow"},
	CodeTokenBalanceOverflow:    {KindArithmetic, http.StatusUnprocessableEntity, "token balance overflow"},

	CodeBountyNotFound:       {KindNotFound, http.StatusNotFound, "bounty not found"},
	CodeAttestationNotFound:  {KindNotFound, http.StatusNotFound, "attestation not found"},
	CodeReputationNotFound:   {KindNotFound, http.StatusNotFound, "reputation record not found"},
	CodeTokenAccountNotFound: {KindNotFound, http.StatusNotFound, "token account not found"},
	CodeEventNotFound:        {KindNotFound, http.StatusNotFound, "event not found"},

	CodeBadRequest:   {KindInvalid, http.StatusBadRequest, "bad request"},
	CodeUnauthorized: {KindAuthorization, http.StatusUnauthorized, "request signature required"},
	CodeInternal:     {KindInternal, http.StatusInternalServerError, "internal error"},
}

type AppError struct {
	HTTPStatus int
	Kind       Kind
	Code       string
	Message    string
	Retryable  bool
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(status int, code, msg string, retryable bool, cause error) *AppError {
	kind := KindInternal
	if info, ok := codeTable[code]; ok {
		kind = info.kind
	}
	return &AppError{
		HTTPStatus: status,
		Kind:       kind,
		Code:       code,
		Message:    msg,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// Fail builds the domain error registered for code. Domain errors are never
// retryable.
func Fail(code string) *AppError {
	info, ok := codeTable[code]
	if !ok {
		return Internal("unknown error code "+code, nil)
	}
	return NewAppError(info.status, code, info.message, false, nil)
}

// Failf is Fail with a detailed message.
func Failf(code, format string, args ...any) *AppError {
	err := Fail(code)
	err.Message = fmt.Sprintf(format, args...)
	return err
}

func BadRequest(msg string, cause error) *AppError {
	return NewAppError(http.StatusBadRequest, CodeBadRequest, msg, false, cause)
}

func IsCode(err error, code string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Kind == kind
}

func Internal(msg string, cause error) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternal, msg, true, cause)
}
