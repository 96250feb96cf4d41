// Package geoip resolves the country a request came from, either from a CDN
// header or from a MaxMind GeoLite2 database.
package geoip

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CountryHeader is the header Cloudflare sets to the visitor's ISO country code.
const CountryHeader = "CF-IPCountry"

// Locator turns a client IP and the CDN country header into a country name.
// An empty result means the country is unknown.
type Locator interface {
	Country(ipAddress, headerCode string) string
}

var (
	countries     = gountries.New()
	upperCaser    = cases.Upper(language.AmericanEnglish)
	reservedCodes = map[string]bool{"": true, "XX": true, "T1": true, "--": true}
)

// CountryName maps an ISO 3166 alpha-2 code to the country's common name.
// Unknown codes come back upper-cased; reserved codes return "".
func CountryName(code string) string {
	code = strings.TrimSpace(code)
	if reservedCodes[strings.ToUpper(code)] {
		return ""
	}
	country, err := countries.FindCountryByAlpha(code)
	if err != nil {
		return upperCaser.String(code)
	}
	return country.Name.Common
}

// DisabledLocator never resolves a country.
type DisabledLocator struct{}

func (DisabledLocator) Country(string, string) string {
	return ""
}

// HeaderLocator trusts the CDN header only.
type HeaderLocator struct{}

func (HeaderLocator) Country(_ string, headerCode string) string {
	return CountryName(headerCode)
}

// MaxMindLocator prefers the CDN header and falls back to a GeoLite2 lookup.
type MaxMindLocator struct {
	path   string
	logger *slog.Logger
	mu     sync.RWMutex
	db     *geoip2.Reader
}

// OpenMaxMind opens the database at path. A missing file is not an error:
// the locator then behaves like HeaderLocator until Reload finds one.
func OpenMaxMind(path string, logger *slog.Logger) (*MaxMindLocator, error) {
	l := &MaxMindLocator{path: path, logger: logger}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload swaps in the database currently on disk.
func (l *MaxMindLocator) Reload() error {
	if l.path == "" {
		l.logger.Debug("GeoIP database path not configured - lookups disabled")
		return nil
	}
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		l.logger.Info("GeoLite2 database not found - lookups disabled",
			slog.String("path", l.path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return nil
	}

	db, err := geoip2.Open(l.path)
	if err != nil {
		return fmt.Errorf("error opening GeoLite2 database %s: %w", l.path, err)
	}

	l.mu.Lock()
	old := l.db
	l.db = db
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}
	l.logger.Info("GeoLite2 database loaded", slog.String("path", l.path))
	return nil
}

func (l *MaxMindLocator) Country(ipAddress, headerCode string) string {
	if name := CountryName(headerCode); name != "" {
		return name
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return ""
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return ""
	}

	record, err := l.db.Country(ip)
	if err != nil {
		l.logger.Debug("GeoIP lookup failed",
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
		return ""
	}
	if name := CountryName(record.Country.IsoCode); name != "" {
		return name
	}
	return record.Country.Names["en"]
}

// Close releases the database.
func (l *MaxMindLocator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
