package service

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/conversion_api/internal/models"
)

// maxIdentifierLen bounds any single device identifier. Hashes and CAIDs are
// far shorter; anything longer is junk.
const maxIdentifierLen = 128

// RawParams is the flat parameter bag of an inbound request, keyed by wire name.
type RawParams map[string]string

// Get returns the first non-empty value among keys.
func (p RawParams) Get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(p[k]); v != "" {
			return v
		}
	}
	return ""
}

// NormalizedDevice is the canonical identifier set plus the attribution
// fields that are coerced alongside it.
type NormalizedDevice struct {
	OS        *int
	Identity  models.DeviceIdentity
	MatchType *int
	ConvTime  *int64
}

// NormalizeDevice trims identifiers, turns empty or malformed values into
// absent ones and coerces os/match_type/conv_time. It never hashes, never
// rejects and never compares fields with each other.
func NormalizeDevice(raw RawParams) NormalizedDevice {
	return NormalizedDevice{
		OS: normalizeOS(raw.Get("os")),
		Identity: models.DeviceIdentity{
			IDFA:      identifier("idfa", raw.Get("idfa")),
			IMEI:      identifier("imei", raw.Get("imei", "imei_md5")),
			OAID:      identifier("oaid", raw.Get("oaid")),
			OAIDMD5:   identifier("oaid_md5", raw.Get("oaid_md5", "oaidmd5")),
			MUID:      identifier("muid", raw.Get("muid")),
			CAID1:     identifier("caid1", raw.Get("caid1", "caid")),
			CAID2:     identifier("caid2", raw.Get("caid2")),
			AndroidID: identifier("android_id", raw.Get("android_id", "androidid")),
			IDFV:      identifier("idfv", raw.Get("idfv")),
		},
		MatchType: normalizeMatchType(raw.Get("match_type")),
		ConvTime:  normalizeConvTime(raw.Get("conv_time")),
	}
}

func identifier(name, v string) *string {
	if v == "" {
		return nil
	}
	if len(v) > maxIdentifierLen || !printableASCII(v) {
		log.Debug().Str("field", name).Int("len", len(v)).Msg("dropping malformed device identifier")
		return nil
	}
	return &v
}

func printableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

func normalizeOS(v string) *int {
	var os int
	switch strings.ToLower(v) {
	case "0", "android":
		os = models.OSAndroid
	case "1", "ios":
		os = models.OSIOS
	default:
		return nil
	}
	return &os
}

func normalizeMatchType(v string) *int {
	n, err := strconv.Atoi(v)
	if err != nil || n < models.MatchTypeClick || n > models.MatchTypeValidPlay {
		return nil
	}
	return &n
}

// normalizeConvTime accepts epoch seconds; millisecond timestamps are scaled down.
func normalizeConvTime(v string) *int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	if n > 1e12 {
		n /= 1000
	}
	return &n
}
