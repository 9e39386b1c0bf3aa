package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem & test corpus errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Contest, rating & ranking errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	PreconditionFailed  ErrorCode = 10004
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError ErrorCode = 10100

	// Cache errors (10200-10299)
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300

	// Messaging & storage (10400-10499)
	MessageQueueError ErrorCode = 10400
	StorageError      ErrorCode = 10401

	// ========== Problem Errors (12000-12999) ==========

	ProblemNotFound     ErrorCode = 12000
	ProblemNotPublished ErrorCode = 12005

	// Test corpus (12100-12199)
	TestCaseInvalid ErrorCode = 12102
	TestCorpusEmpty ErrorCode = 12104

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	CategoryNotSupported   ErrorCode = 13006
	CategoryMismatch       ErrorCode = 13007

	// Judge (13100-13199)
	SandboxUnavailable ErrorCode = 13107

	// ========== Contest, Rating & Ranking Errors (14000-14999) ==========

	// Contest basic (14000-14099)
	ContestNotFound      ErrorCode = 14000
	ContestDomainMissing ErrorCode = 14006

	// Participation (14100-14199)
	ParticipationNotFound     ErrorCode = 14103
	ParticipationUpdateFailed ErrorCode = 14105

	// Ranking (14200-14299)
	FinalizationBusy     ErrorCode = 14202
	FinalizationFailed   ErrorCode = 14203
	TierNotConfigured    ErrorCode = 14204
	InvalidTierCutoffs   ErrorCode = 14205
	InvalidRatingScale   ErrorCode = 14206
	RatingPolicyNotFound ErrorCode = 14207
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	PreconditionFailed:  "Precondition failed",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError: "Database operation failed",

	// Cache
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed: "Validation failed",

	// Messaging & storage
	MessageQueueError: "Message queue operation failed",
	StorageError:      "Object storage operation failed",

	// Problem
	ProblemNotFound:     "Problem not found",
	ProblemNotPublished: "Problem is not published yet",

	// Test corpus
	TestCaseInvalid: "Invalid test case format",
	TestCorpusEmpty: "Problem has no hidden test cases",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	CategoryNotSupported:   "Problem category not supported",
	CategoryMismatch:       "Submission category does not match problem",

	// Judge
	SandboxUnavailable: "Execution sandbox unavailable",

	// Contest
	ContestNotFound:      "Contest not found",
	ContestDomainMissing: "Contest is not linked to a domain",

	// Participation
	ParticipationNotFound:     "Contest participation not found",
	ParticipationUpdateFailed: "Failed to update contest participation",

	// Ranking
	FinalizationBusy:     "Finalization already running for this domain, please try again",
	FinalizationFailed:   "Contest finalization failed",
	TierNotConfigured:    "Tier is not configured for this domain",
	InvalidTierCutoffs:   "Invalid tier cutoffs",
	InvalidRatingScale:   "Invalid rating scale",
	RatingPolicyNotFound: "Rating policy not found",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == ProblemNotFound, c == ContestNotFound,
		c == SubmissionNotFound, c == ParticipationNotFound:
		return 404
	case c == PreconditionFailed, c == ContestDomainMissing, c == TestCorpusEmpty,
		c == TierNotConfigured, c == ProblemNotPublished, c == CategoryMismatch:
		return 412
	case c == FinalizationBusy, c == LockFailed:
		return 409
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == SandboxUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == LanguageNotSupported, c == CategoryNotSupported, c == CodeTooLarge:
		return 400
	default:
		return 500
	}
}

// Retryable reports whether a caller may safely retry the same request later.
func (c ErrorCode) Retryable() bool {
	switch c {
	case FinalizationBusy, LockFailed, ServiceUnavailable, TooManyRequests, Timeout:
		return true
	default:
		return false
	}
}
