package versioning

import (
	"fmt"
	"regexp"
	"strconv"
)

// APIVersion represents a semantic version for the API
type APIVersion struct {
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
}

// String returns the version as a string (e.g., "1.2.3" or "1.2.3-beta")
func (v APIVersion) String() string {
	version := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		version += "-" + v.Prerelease
	}
	return version
}

// Compare returns -1 if v < other, 0 if equal, 1 if v > other
func (v APIVersion) Compare(other APIVersion) int {
	for _, pair := range [][2]int{{v.Major, other.Major}, {v.Minor, other.Minor}, {v.Patch, other.Patch}} {
		if pair[0] < pair[1] {
			return -1
		}
		if pair[0] > pair[1] {
			return 1
		}
	}

	switch {
	case v.Prerelease == other.Prerelease:
		return 0
	case v.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	case v.Prerelease < other.Prerelease:
		return -1
	default:
		return 1
	}
}

// SupportsFeature checks if this version includes a feature introduced in featureVersion
func (v APIVersion) SupportsFeature(featureVersion APIVersion) bool {
	return v.Compare(featureVersion) >= 0
}

var (
	V1_0_0 = APIVersion{Major: 1, Minor: 0, Patch: 0}
	V1_1_0 = APIVersion{Major: 1, Minor: 1, Patch: 0}
)

// CurrentVersion is the newest API version served
var CurrentVersion = V1_1_0

// MinimumSupportedVersion is the oldest API version still accepted
var MinimumSupportedVersion = V1_0_0

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-([a-zA-Z0-9\-\.]+))?$`)

// ParseVersion parses a version string into an APIVersion
func ParseVersion(versionStr string) (APIVersion, error) {
	matches := versionPattern.FindStringSubmatch(versionStr)
	if matches == nil {
		return APIVersion{}, fmt.Errorf("invalid version format: %s", versionStr)
	}

	var parts [3]int
	for i := range parts {
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			return APIVersion{}, fmt.Errorf("invalid version component %q: %w", matches[i+1], err)
		}
		parts[i] = n
	}

	return APIVersion{
		Major:      parts[0],
		Minor:      parts[1],
		Patch:      parts[2],
		Prerelease: matches[4],
	}, nil
}

// FeatureVersion records when an API feature appeared
type FeatureVersion struct {
	Name         string     `json:"name"`
	IntroducedIn APIVersion `json:"introduced_in"`
	Description  string     `json:"description"`
}

// Feature names
const (
	FeatureMessageGeneration = "message_generation"
	FeatureMessageSend       = "message_send"
	FeatureHistory           = "history_pagination"
	FeatureReconciliation    = "update_reconciliation"
	FeatureReceipts          = "receipt_reconciliation"
	FeatureEventStream       = "event_stream"
)

// APIFeatures is the feature registry
var APIFeatures = []FeatureVersion{
	{Name: FeatureMessageGeneration, IntroducedIn: V1_0_0, Description: "Compose a message without sending it"},
	{Name: FeatureMessageSend, IntroducedIn: V1_0_0, Description: "Compose, relay and record a message"},
	{Name: FeatureHistory, IntroducedIn: V1_0_0, Description: "Keyset pagination over chat history"},
	{Name: FeatureReconciliation, IntroducedIn: V1_0_0, Description: "Apply append, notify and replace updates"},
	{Name: FeatureReceipts, IntroducedIn: V1_0_0, Description: "Merge per-user delivery, read and played receipts"},
	{Name: FeatureEventStream, IntroducedIn: V1_1_0, Description: "Websocket stream of history events"},
}

// GetFeature returns feature information by name
func GetFeature(name string) (*FeatureVersion, bool) {
	for i := range APIFeatures {
		if APIFeatures[i].Name == name {
			return &APIFeatures[i], true
		}
	}
	return nil, false
}

// GetSupportedFeatures returns all features available in version
func GetSupportedFeatures(version APIVersion) []FeatureVersion {
	var supported []FeatureVersion
	for _, feature := range APIFeatures {
		if version.SupportsFeature(feature.IntroducedIn) {
			supported = append(supported, feature)
		}
	}
	return supported
}

// VersionCompatibility contains compatibility information
type VersionCompatibility struct {
	Requested         APIVersion       `json:"requested_version"`
	Current           APIVersion       `json:"current_version"`
	MinimumSupported  APIVersion       `json:"minimum_supported"`
	Compatible        bool             `json:"compatible"`
	SupportedFeatures []FeatureVersion `json:"supported_features,omitempty"`
	Warnings          []string         `json:"warnings,omitempty"`
	Errors            []string         `json:"errors,omitempty"`
}

// CheckCompatibility checks whether requestedVersion can be served
func CheckCompatibility(requestedVersion APIVersion) VersionCompatibility {
	compat := VersionCompatibility{
		Requested:        requestedVersion,
		Current:          CurrentVersion,
		MinimumSupported: MinimumSupportedVersion,
	}

	if requestedVersion.Compare(MinimumSupportedVersion) < 0 {
		compat.Errors = append(compat.Errors,
			fmt.Sprintf("Version %s is no longer supported. Minimum supported version is %s",
				requestedVersion, MinimumSupportedVersion))
		return compat
	}

	if requestedVersion.Compare(CurrentVersion) > 0 {
		compat.Errors = append(compat.Errors,
			fmt.Sprintf("Version %s is not yet available. Current version is %s",
				requestedVersion, CurrentVersion))
		return compat
	}

	compat.Compatible = true
	compat.SupportedFeatures = GetSupportedFeatures(requestedVersion)
	if requestedVersion.Compare(CurrentVersion) < 0 {
		compat.Warnings = append(compat.Warnings,
			fmt.Sprintf("You are using version %s. Consider upgrading to %s for latest features",
				requestedVersion, CurrentVersion))
	}
	return compat
}

// GetVersionRange returns the supported version range as a string
func GetVersionRange() string {
	return fmt.Sprintf("%s - %s", MinimumSupportedVersion, CurrentVersion)
}
