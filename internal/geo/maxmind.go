// Package geo resolves IP addresses to ISO country codes for rows that carry
// an IP but no country.
package geo

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// MaxMind resolves countries from a local GeoLite2/GeoIP2 database.
type MaxMind struct {
	reader *geoip2.Reader
}

// OpenMaxMind opens the mmdb file at path. Country and City databases both work.
func OpenMaxMind(path string) (*MaxMind, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo.OpenMaxMind: %s: %w", path, err)
	}
	return &MaxMind{reader: reader}, nil
}

// Country implements ingest.CountryResolver. Unparseable or private addresses
// resolve to "".
func (m *MaxMind) Country(ctx context.Context, ip string) (string, error) {
	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil || addr.IsPrivate() || addr.IsLoopback() {
		return "", nil
	}
	record, err := m.reader.Country(addr)
	if err != nil {
		return "", fmt.Errorf("geo.Country: %w", err)
	}
	return strings.ToUpper(record.Country.IsoCode), nil
}

// Close releases the database.
func (m *MaxMind) Close() error {
	return m.reader.Close()
}
