// Package units holds the conversions between the wire units the miners and
// pools report and the normalized units we store (GH/s for hashrate, plain
// floats for difficulty).
package units

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var diffRe = regexp.MustCompile(`^([\d.]+)\s*([KMGTkmgt])?`)

// ParseDifficulty parses difficulty strings like "22.23 M" or "4.5T" into a
// plain float. Unknown or unparsable input yields 0, never an error: firmwares
// omit or garble this field routinely and a zero reads as "no best share yet".
func ParseDifficulty(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	m := diffRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		return v * 1e3
	case "M":
		return v * 1e6
	case "G":
		return v * 1e9
	case "T":
		return v * 1e12
	default:
		return v
	}
}

var hashrateRe = regexp.MustCompile(`^([\d.]+)\s*([KMGTPkmgtp]?)`)

// ParseHashrateGHS converts pool hashrate strings ("466G", "1.29T", "185M",
// bare H/s otherwise) to GH/s. Zero on anything unparsable.
func ParseHashrateGHS(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	m := hashrateRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		return v * 1e-6
	case "M":
		return v * 1e-3
	case "G":
		return v
	case "T":
		return v * 1e3
	case "P":
		return v * 1e6
	default:
		return v * 1e-9
	}
}

// HashesToGHS converts a raw H/s number to GH/s.
func HashesToGHS(hs float64) float64 {
	if hs <= 0 {
		return 0
	}
	return hs / 1e9
}

// FormatHashrate renders a raw H/s value as a short human string ("1.29T").
func FormatHashrate(hs float64) string {
	switch {
	case hs >= 1e15:
		return fmt.Sprintf("%.2fP", hs/1e15)
	case hs >= 1e12:
		return fmt.Sprintf("%.2fT", hs/1e12)
	case hs >= 1e9:
		return fmt.Sprintf("%.2fG", hs/1e9)
	case hs >= 1e6:
		return fmt.Sprintf("%.2fM", hs/1e6)
	case hs >= 1e3:
		return fmt.Sprintf("%.2fK", hs/1e3)
	case hs > 0:
		return fmt.Sprintf("%.2f", hs)
	default:
		return "0"
	}
}

// FormatDifficulty renders a difficulty value with its natural suffix for
// alert text.
func FormatDifficulty(d float64) string {
	switch {
	case d >= 1e12:
		return fmt.Sprintf("%.2f T", d/1e12)
	case d >= 1e9:
		return fmt.Sprintf("%.2f G", d/1e9)
	case d >= 1e6:
		return fmt.Sprintf("%.2f M", d/1e6)
	case d >= 1e3:
		return fmt.Sprintf("%.2f K", d/1e3)
	default:
		return fmt.Sprintf("%.2f", d)
	}
}

// FormatDurationShort renders a duration as "2h 3m 4s", dropping leading
// zero units.
func FormatDurationShort(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
