package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Combine with NewSubSystemError when a subsystem needs
// its own monitoring code.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound = fmt.Errorf("llm provider not found")

	// Configuration errors are fatal at agent registration.
	ErrConfiguration        = fmt.Errorf("configuration error")
	ErrProviderUnconfigured = fmt.Errorf("%w: provider has no credentials", ErrConfiguration)
	ErrProviderUnsupported  = fmt.Errorf("%w: provider not supported in this mode", ErrConfiguration)

	// Orchestration errors.
	ErrAgentNotFound    = fmt.Errorf("agent not found")
	ErrNoValidAgents    = fmt.Errorf("no valid agents for conversation")
	ErrStructuredOutput = fmt.Errorf("model output did not match requested schema")
	ErrEmptyResponse    = fmt.Errorf("model returned empty output")

	// Gateway / RPC errors.
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrServerError     = fmt.Errorf("upstream server error")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Registry.Register")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrServerError) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrStructuredOutput)
}

// IsConfigurationError reports whether err is a registration-time
// configuration problem.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown               ErrorCode = "UNKNOWN"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeDuplicate             ErrorCode = "DUPLICATE"
	CodeTimeout               ErrorCode = "TIMEOUT"
	CodeInvalidInput          ErrorCode = "INVALID_INPUT"
	CodeProviderError         ErrorCode = "PROVIDER_ERROR"
	CodeProviderNotFound      ErrorCode = "PROVIDER_NOT_FOUND"
	CodeConfiguration         ErrorCode = "CONFIGURATION"
	CodeProviderUnconfigured  ErrorCode = "PROVIDER_UNCONFIGURED"
	CodeProviderUnsupported   ErrorCode = "PROVIDER_UNSUPPORTED"
	CodeAgentNotFound         ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentDuplicate        ErrorCode = "AGENT_DUPLICATE"
	CodeConversationNotFound  ErrorCode = "CONVERSATION_NOT_FOUND"
	CodeNoValidAgents         ErrorCode = "NO_VALID_AGENTS"
	CodeStructuredOutput      ErrorCode = "STRUCTURED_OUTPUT"
	CodeEmptyResponse         ErrorCode = "EMPTY_RESPONSE"
	CodeGatewayAuth           ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound     ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload     ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeContextOverflow       ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit             ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid           ErrorCode = "AUTH_INVALID"
	CodeServerError           ErrorCode = "SERVER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:             CodeNotFound,
	ErrDuplicate:            CodeDuplicate,
	ErrTimeout:              CodeTimeout,
	ErrInvalidInput:         CodeInvalidInput,
	ErrProviderError:        CodeProviderError,
	ErrProviderNotFound:     CodeProviderNotFound,
	ErrConfiguration:        CodeConfiguration,
	ErrProviderUnconfigured: CodeProviderUnconfigured,
	ErrProviderUnsupported:  CodeProviderUnsupported,
	ErrAgentNotFound:        CodeAgentNotFound,
	ErrNoValidAgents:        CodeNoValidAgents,
	ErrStructuredOutput:     CodeStructuredOutput,
	ErrEmptyResponse:        CodeEmptyResponse,
	ErrGatewayAuthFailed:    CodeGatewayAuth,
	ErrRPCMethodNotFound:    CodeRPCMethodNotFound,
	ErrRPCInvalidPayload:    CodeRPCInvalidPayload,
	ErrContextOverflow:      CodeContextOverflow,
	ErrRateLimit:            CodeRateLimit,
	ErrAuthInvalid:          CodeAuthInvalid,
	ErrServerError:          CodeServerError,
}

// specificity lists sentinels that wrap other sentinels, most specific first,
// so the chain walk in ErrorCodeOf never reports the broader category.
var specificity = []error{
	ErrProviderUnconfigured,
	ErrProviderUnsupported,
	ErrGatewayAuthFailed,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"agent":        CodeAgentNotFound,
		"conversation": CodeConversationNotFound,
	},
	ErrDuplicate: {
		"agent": CodeAgentDuplicate,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, sentinel := range specificity {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
