// Package events implements the append-only audit log: structured event
// records persisted to MongoDB with retry, a bounded read-side cache and
// volume capping so a log storm can never amplify an incident.
package events

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category tags an event with the domain it belongs to.
type Category string

const (
	CategoryAuth      Category = "auth"
	CategorySecurity  Category = "security"
	CategoryFinancial Category = "financial"
	CategoryProject   Category = "project"
	CategorySystem    Category = "system"
)

// Level is the severity of an event.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Common event types written by the auth pipeline.
const (
	TypeUserLogin       = "user_login"
	TypeUserLogout      = "user_logout"
	TypeUserRegistered  = "user_registered"
	TypeLoginFailed     = "login_failed"
	TypeRateLimited     = "rate_limit_exceeded"
	TypeCSRFRejected    = "csrf_rejected"
	TypeAdminCodeFailed = "admin_code_failed"
)

// Event is one immutable log record. Once written it is never updated; the
// UserID reference is one-way, nothing points back from users to events.
type Event struct {
	ID        string         `bson:"_id" json:"id"`
	Category  Category       `bson:"category" json:"category"`
	Type      string         `bson:"type" json:"type"`
	Level     Level          `bson:"level" json:"level"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	UserID    string         `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Data      map[string]any `bson:"data" json:"data"`
}

// Payload is implemented by the typed per-category payload schemas. The
// generic Fields bag exists only for genuinely unstructured data.
type Payload interface {
	Category() Category
	Fields() map[string]any
}

// AuthPayload describes login/logout/registration outcomes.
type AuthPayload struct {
	Email     string
	IPAddress string
	UserAgent string
	Success   bool
	Reason    string
}

func (p AuthPayload) Category() Category { return CategoryAuth }

func (p AuthPayload) Fields() map[string]any {
	return map[string]any{
		"email":      p.Email,
		"ip_address": p.IPAddress,
		"user_agent": p.UserAgent,
		"success":    p.Success,
		"reason":     p.Reason,
	}
}

// SecurityPayload describes a security-relevant incident.
type SecurityPayload struct {
	Action    string
	IPAddress string
	Detail    string
}

func (p SecurityPayload) Category() Category { return CategorySecurity }

func (p SecurityPayload) Fields() map[string]any {
	return map[string]any{
		"action":     p.Action,
		"ip_address": p.IPAddress,
		"detail":     p.Detail,
	}
}

// FinancialPayload describes a funding movement.
type FinancialPayload struct {
	ProjectID string
	Amount    float64
	Currency  string
	Action    string
}

func (p FinancialPayload) Category() Category { return CategoryFinancial }

func (p FinancialPayload) Fields() map[string]any {
	return map[string]any{
		"project_id": p.ProjectID,
		"amount":     p.Amount,
		"currency":   p.Currency,
		"action":     p.Action,
	}
}

// ProjectPayload describes a project lifecycle change.
type ProjectPayload struct {
	ProjectID string
	Name      string
	Action    string
}

func (p ProjectPayload) Category() Category { return CategoryProject }

func (p ProjectPayload) Fields() map[string]any {
	return map[string]any{
		"project_id": p.ProjectID,
		"name":       p.Name,
		"action":     p.Action,
	}
}

// GenericPayload is the key-value fallback for unstructured event data.
type GenericPayload struct {
	Cat    Category
	Values map[string]any
}

func (p GenericPayload) Category() Category { return p.Cat }

func (p GenericPayload) Fields() map[string]any { return p.Values }

// Filter selects events on the read side. Zero values mean "any".
type Filter struct {
	Category Category
	Type     string
	Level    Level
	UserID   string
	From     time.Time
	To       time.Time
	Limit    int
}

// maxQueryLimit caps a single filtered read.
const maxQueryLimit = 1000

// effectiveLimit returns the row cap for this filter.
func (f Filter) effectiveLimit() int {
	if f.Limit <= 0 || f.Limit > maxQueryLimit {
		return maxQueryLimit
	}
	return f.Limit
}

// CacheKey derives a deterministic key for the read cache. Fields are
// serialized in a fixed order so equal filters always collide.
func (f Filter) CacheKey() string {
	parts := []string{
		"category=" + string(f.Category),
		"type=" + f.Type,
		"level=" + string(f.Level),
		"user=" + f.UserID,
		fmt.Sprintf("from=%d", f.From.UnixNano()),
		fmt.Sprintf("to=%d", f.To.UnixNano()),
		fmt.Sprintf("limit=%d", f.effectiveLimit()),
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}
