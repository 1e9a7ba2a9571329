package session

import (
	"errors"
)

var (
	// ErrInvalidRequest marks caller mistakes: bad call type, missing phone
	// number, malformed input. No side effects have occurred.
	ErrInvalidRequest = errors.New("session: invalid request")

	// ErrNotConfigured marks missing transport credentials. Distinct from
	// not-found so handlers can answer 503 instead of 404.
	ErrNotConfigured = errors.New("session: livekit transport not configured")

	// ErrCapacity is returned when the optional concurrent-call cap rejects a
	// new call.
	ErrCapacity = errors.New("session: concurrent call capacity reached")
)

const (
	CallTypeWeb   = "web"
	CallTypePhone = "phone"
)

// Status is the externally observable session state. The lifecycle is
// pending -> active -> ended; not_available and cleanup_failed are
// configuration-failure states reachable from any point. Identifiers are
// single-use, so there is no transition out of ended.
type Status string

const (
	StatusCreated       Status = "created"
	StatusPending       Status = "pending"
	StatusActive        Status = "active"
	StatusEnded         Status = "ended"
	StatusNotAvailable  Status = "not_available"
	StatusCleanupFailed Status = "cleanup_failed"
)

// CreateRequest is the inbound call request body.
type CreateRequest struct {
	CallType    string        `json:"callType"`
	PhoneNumber string        `json:"phoneNumber,omitempty"`
	Metadata    CallerDetails `json:"metadata,omitempty"`
}

// CallerDetails are the optional caller-supplied fields. Pointers so absent
// fields stay distinguishable from empty strings.
type CallerDetails struct {
	FirstName     *string `json:"first_name,omitempty"`
	LastName      *string `json:"last_name,omitempty"`
	StreetAddress *string `json:"street_address,omitempty"`
	City          *string `json:"city,omitempty"`
	PostalCode    *string `json:"postal_code,omitempty"`
	PhoneType     *string `json:"phone_type,omitempty"`
	RequestType   *string `json:"request_type,omitempty"`
	CallDirection *string `json:"call_direction,omitempty"`
	CompanyName   *string `json:"company_name,omitempty"`

	ElectricityRecommendedSupplier *string `json:"electricity_recommended_supplier,omitempty"`
	ElectricityQuoteAnnualCost     *string `json:"electricity_quote_annual_cost,omitempty"`
	GasRecommendedSupplier         *string `json:"gas_recommended_supplier,omitempty"`
	GasQuoteAnnualCost             *string `json:"gas_quote_annual_cost,omitempty"`
}

// Metadata is the canonical metadata object attached to the token, the agent
// dispatch and the stored record. Absent fields marshal as explicit nulls;
// ParticipantName is only set on the dispatch/record variant.
type Metadata struct {
	CallType    string  `json:"call_type"`
	PhoneNumber *string `json:"phone_number"`

	FirstName     *string `json:"first_name"`
	LastName      *string `json:"last_name"`
	StreetAddress *string `json:"street_address"`
	City          *string `json:"city"`
	PostalCode    *string `json:"postal_code"`
	PhoneType     string  `json:"phone_type"`
	RequestType   *string `json:"request_type"`
	CallDirection *string `json:"call_direction"`
	CompanyName   *string `json:"company_name"`

	ElectricityRecommendedSupplier *string `json:"electricity_recommended_supplier"`
	ElectricityQuoteAnnualCost     *string `json:"electricity_quote_annual_cost"`
	GasRecommendedSupplier         *string `json:"gas_recommended_supplier"`
	GasQuoteAnnualCost             *string `json:"gas_quote_annual_cost"`

	ParticipantName string `json:"participant_name,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// CreateResult is the session bundle returned on successful call creation.
type CreateResult struct {
	RoomName        string   `json:"roomName"`
	ParticipantName string   `json:"participantName"`
	CallType        string   `json:"callType"`
	PhoneNumber     *string  `json:"phoneNumber"`
	AccessToken     string   `json:"accessToken"`
	LiveKitURL      string   `json:"liveKitUrl"`
	AgentName       string   `json:"agentName"`
	DispatchID      string   `json:"dispatchId"`
	Metadata        Metadata `json:"metadata"`
	Status          Status   `json:"status"`
	Timestamp       string   `json:"timestamp"`
}

// StatusResult answers a live-status query. A room absent from the server
// reports pending, never not-found: a freshly requested session may not have
// materialized yet.
type StatusResult struct {
	RoomName         string  `json:"roomName"`
	ParticipantCount int     `json:"participantCount"`
	Metadata         *string `json:"metadata"`
	CreationTime     *int64  `json:"creationTime"`
	Status           Status  `json:"status"`
	Message          string  `json:"message,omitempty"`
}

// TeardownResult reports the terminal state of a teardown request. Repeated
// teardowns converge to ended.
type TeardownResult struct {
	RoomName  string `json:"roomName"`
	Status    Status `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}
