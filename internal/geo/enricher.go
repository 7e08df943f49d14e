// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

// Package geo provides deterministic IP-to-location/ASN enrichment backed by
// an optional MaxMind-format database.
//
// Determinism is the contract: the same IP always yields the same result for
// the lifetime of the process. Coordinates are never randomized; when the
// fallback_coords option is enabled, unresolvable IPs get a stable
// pseudo-coordinate derived by hashing the address. Lookup failures are not
// errors - they surface as absent enrichment.
package geo

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
	"github.com/sony/gobreaker/v2"

	"github.com/oweller/attackmap/internal/cache"
	"github.com/oweller/attackmap/internal/config"
	"github.com/oweller/attackmap/internal/logging"
	"github.com/oweller/attackmap/internal/metrics"
	"github.com/oweller/attackmap/internal/models"
)

// cacheCapacity bounds the lookup cache.
const cacheCapacity = 50000

// Result is the outcome of one enrichment lookup. Either field may be nil.
type Result struct {
	Geo *models.Geo
	Asn *models.Asn
}

// dbRecord is the combined city+ASN shape decoded from the database. A
// single database file usually carries only one of the two sections; absent
// sections decode to nil pointers.
type dbRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  *float64 `maxminddb:"latitude"`
		Longitude *float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
	ASNumber uint   `maxminddb:"autonomous_system_number"`
	ASOrg    string `maxminddb:"autonomous_system_organization"`
}

// Enricher resolves IPs to geo/ASN attribution through a bounded cache and a
// circuit breaker guarding the database reader.
type Enricher struct {
	cfg    config.TelemetryConfig
	reader *maxminddb.Reader
	cb     *gobreaker.CircuitBreaker[dbRecord]
	cache  *cache.LRU[Result]

	warnOnce sync.Once
}

// NewEnricher opens the configured database if any. An unusable database is
// logged once and disables DB-backed enrichment; it never fails construction.
func NewEnricher(cfg config.TelemetryConfig) *Enricher {
	e := &Enricher{
		cfg:   cfg,
		cache: cache.NewLRU[Result](cacheCapacity),
	}

	if cfg.GeoDBPath == "" {
		logging.Warn().Msg("geo database path not set, geo enrichment unavailable")
	} else if reader, err := maxminddb.Open(cfg.GeoDBPath); err != nil {
		logging.Warn().Err(err).Str("path", cfg.GeoDBPath).Msg("geo database not usable, enrichment disabled")
	} else {
		e.reader = reader
	}

	e.cb = gobreaker.NewCircuitBreaker[dbRecord](gobreaker.Settings{
		Name:    "geoip",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("geo lookup breaker state change")
		},
	})

	return e
}

// Close releases the database reader.
func (e *Enricher) Close() error {
	if e.reader != nil {
		return e.reader.Close()
	}
	return nil
}

// Lookup resolves an IP. The result is deterministic for the process
// lifetime: cached results are returned verbatim, database lookups are
// pure reads, and fallback coordinates hash the input.
func (e *Enricher) Lookup(ip string) Result {
	if ip == "" {
		return Result{}
	}

	if cached, ok := e.cache.Get(ip); ok {
		metrics.GeoCacheHits.Inc()
		return cached
	}
	metrics.GeoCacheMisses.Inc()

	res := e.resolve(ip)
	e.cache.Add(ip, res)
	return res
}

func (e *Enricher) resolve(ip string) Result {
	if !isGlobalIP(ip) && !e.cfg.FallbackCoords {
		return Result{}
	}

	if e.reader == nil {
		if e.cfg.FallbackCoords {
			return Result{Geo: fallbackCoordinates(ip)}
		}
		return Result{}
	}

	var res Result
	rec, err := e.cb.Execute(func() (dbRecord, error) {
		parsed := net.ParseIP(ip)
		if parsed == nil {
			return dbRecord{}, fmt.Errorf("unparseable ip %q", ip)
		}
		var rec dbRecord
		if err := e.reader.Lookup(parsed, &rec); err != nil {
			return dbRecord{}, err
		}
		return rec, nil
	})
	if err != nil {
		metrics.GeoLookupErrors.Inc()
		e.warnOnce.Do(func() {
			logging.Warn().Err(err).Msg("geo lookup failing, treating as absent")
		})
	} else {
		res = recordToResult(rec)
	}

	if res.Geo == nil && e.cfg.FallbackCoords {
		res.Geo = fallbackCoordinates(ip)
	}
	return res
}

// recordToResult converts a decoded database record, dropping half-resolved
// coordinates per the lat/lon invariant.
func recordToResult(rec dbRecord) Result {
	var res Result

	if rec.Location.Latitude != nil && rec.Location.Longitude != nil {
		country := rec.Country.ISOCode
		if country == "" {
			country = rec.Country.Names["en"]
		}
		res.Geo = &models.Geo{
			Lat:     rec.Location.Latitude,
			Lon:     rec.Location.Longitude,
			Country: country,
			City:    rec.City.Names["en"],
		}
	}

	if rec.ASNumber != 0 {
		res.Asn = &models.Asn{
			ASN: fmt.Sprintf("AS%d", rec.ASNumber),
			Org: rec.ASOrg,
		}
	}

	return res
}

// isGlobalIP reports whether the address is globally routable. Private,
// loopback, link-local, multicast and unspecified addresses are not.
func isGlobalIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsValid() &&
		!addr.IsPrivate() &&
		!addr.IsLoopback() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}

// fallbackCoordinates derives a stable pseudo-coordinate by hashing the IP.
// Latitude maps into [-70, 70) to keep points off the poles.
func fallbackCoordinates(ip string) *models.Geo {
	digest := sha256.Sum256([]byte(ip))
	latSeed := float64(binary.BigEndian.Uint32(digest[0:4])) / float64(1<<32)
	lonSeed := float64(binary.BigEndian.Uint32(digest[4:8])) / float64(1<<32)

	lat := round6(latSeed*140 - 70)
	lon := round6(lonSeed*360 - 180)
	return &models.Geo{Lat: &lat, Lon: &lon, Approx: true}
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
