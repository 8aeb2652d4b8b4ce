package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

// Device types reported in the evaluation context.
const (
	TypeDesktop = "desktop"
	TypeMobile  = "mobile"
	TypeBot     = "bot"
	TypeUnknown = "unknown"
)

// Info is what a user agent says about the requesting device.
type Info struct {
	Type    string `json:"device_type"`
	OS      string `json:"device_os"`
	Browser string `json:"browser"`
}

// Service parses user agents and derives stable device fingerprints.
type Service struct {
	fingerprinting bool
}

// NewService builds a device service. With fingerprinting disabled
// ComputeFingerprint always returns "".
func NewService(fingerprinting bool) *Service {
	return &Service{fingerprinting: fingerprinting}
}

// Classify extracts device type, OS and browser from a user agent.
func Classify(userAgent string) Info {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return Info{Type: TypeUnknown}
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	info := Info{
		Type:    TypeDesktop,
		OS:      ua.OSInfo().Name,
		Browser: browser,
	}
	switch {
	case ua.Bot():
		info.Type = TypeBot
	case ua.Mobile():
		info.Type = TypeMobile
	}
	return info
}

// ParseUserAgent returns a display name such as "Chrome on macOS".
func ParseUserAgent(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	platform := ua.OSInfo().Name
	if platform == "" {
		platform = ua.Platform()
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	if platform == "" {
		platform = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + platform)
}

// ComputeFingerprint hashes the browser, its major version, the OS and the
// platform. Minor browser updates keep the fingerprint stable.
func (s *Service) ComputeFingerprint(userAgent string) string {
	if !s.fingerprinting || strings.TrimSpace(userAgent) == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	browser, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")
	os := ua.OSInfo()
	parts := []string{browser, major, os.Name, ua.Platform()}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CompareFingerprints reports whether two fingerprints match and whether a
// mismatch counts as drift. An empty stored fingerprint is never drift.
func (s *Service) CompareFingerprints(stored, current string) (matched bool, drift bool) {
	if stored == "" || current == "" {
		return stored == current, false
	}
	if stored == current {
		return true, false
	}
	return false, true
}
