package requests

import (
	"time"
	"unicode/utf8"
)

// Category separates browser page loads from API calls.
type Category string

const (
	CategoryWeb Category = "web"
	CategoryAPI Category = "api"
)

// DefaultTableName is the table request events live in unless configured otherwise.
const DefaultTableName = "request_analytics"

// Unknown is stored when a request attribute could not be classified.
const Unknown = "Unknown"

// IsValid reports whether c is one of the known categories.
func (c Category) IsValid() bool {
	return c == CategoryWeb || c == CategoryAPI
}

// Column bounds of the sized RequestEvent fields.
const (
	MaxPathLength      = 2048
	MaxPageTitleLength = 512
	MaxLanguageLength  = 255
	maxIPLength        = 64
	maxLabelLength     = 128
	maxScreenLength    = 32
	maxSessionLength   = 128
	maxVisitorLength   = 64
	maxMethodLength    = 16
)

// Clamp cuts s to at most max runes so it fits a sized column.
func Clamp(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// RequestEvent is one captured HTTP request. Rows are written once and never updated.
type RequestEvent struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Path            string    `gorm:"size:2048;not null" json:"path"`
	PageTitle       string    `gorm:"size:512" json:"page_title"`
	IPAddress       string    `gorm:"size:64" json:"ip_address"`
	OperatingSystem string    `gorm:"size:128" json:"operating_system"`
	Browser         string    `gorm:"size:128" json:"browser"`
	Device          string    `gorm:"size:128" json:"device"`
	Screen          string    `gorm:"size:32" json:"screen"`
	Referrer        string    `gorm:"size:2048" json:"referrer"`
	Country         string    `gorm:"size:128" json:"country"`
	City            string    `gorm:"size:128" json:"city"`
	Language        string    `gorm:"size:255" json:"language"`
	QueryParams     string    `gorm:"type:text" json:"query_params"`
	SessionID       string    `gorm:"size:128;not null;index:idx_request_session" json:"session_id"`
	VisitorID       *string   `gorm:"size:64;index:idx_request_visitor" json:"visitor_id"`
	UserID          *uint64   `json:"user_id"`
	HTTPMethod      string    `gorm:"size:16;not null" json:"http_method"`
	RequestCategory Category  `gorm:"size:16;not null;index:idx_request_category_visited,priority:1" json:"request_category"`
	ResponseTime    *int64    `json:"response_time"`
	VisitedAt       time.Time `gorm:"not null;index:idx_request_visited_at;index:idx_request_category_visited,priority:2" json:"visited_at"`
}

// TableName keeps the default table name when no override is configured.
func (RequestEvent) TableName() string {
	return DefaultTableName
}
