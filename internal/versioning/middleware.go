package versioning

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextKey string

const versionContextKey contextKey = "api_version"

const (
	// AcceptVersionHeader lets a client pin an exact API version
	AcceptVersionHeader = "Accept-Version"

	CurrentVersionHeader    = "X-Current-Version"
	SupportedVersionsHeader = "X-Supported-Versions"
)

// VersionMiddleware resolves the API version of each request
type VersionMiddleware struct {
	logger *logrus.Logger
}

func NewVersionMiddleware(logger *logrus.Logger) *VersionMiddleware {
	return &VersionMiddleware{logger: logger}
}

// VersionHandler rejects unsupported versions and stores the resolved
// version in the request context
func (vm *VersionMiddleware) VersionHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested := vm.extractVersionFromRequest(r)
		compatibility := CheckCompatibility(requested)

		w.Header().Set(CurrentVersionHeader, CurrentVersion.String())
		w.Header().Set(SupportedVersionsHeader, GetVersionRange())

		if !compatibility.Compatible {
			vm.handleIncompatibleVersion(w, r, compatibility)
			return
		}

		vm.logger.WithFields(logrus.Fields{
			"api_version": requested.String(),
			"warnings":    compatibility.Warnings,
		}).Debug("API version resolved")

		ctx := context.WithValue(r.Context(), versionContextKey, requested)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractVersionFromRequest prefers Accept-Version, then the path prefix.
// A bare "/v1" selects the newest minor of that major.
func (vm *VersionMiddleware) extractVersionFromRequest(r *http.Request) APIVersion {
	if versionStr := r.Header.Get(AcceptVersionHeader); versionStr != "" {
		if version, err := ParseVersion(versionStr); err == nil {
			return version
		}
		vm.logger.WithField("version_string", versionStr).Warn("Invalid version in Accept-Version header")
	}

	if version, ok := versionFromPath(r.URL.Path); ok {
		return version
	}
	return CurrentVersion
}

func versionFromPath(path string) (APIVersion, bool) {
	for _, part := range strings.Split(path, "/") {
		if len(part) < 2 || part[0] != 'v' {
			continue
		}
		major, err := strconv.Atoi(part[1:])
		if err != nil {
			continue
		}
		if major == CurrentVersion.Major {
			return CurrentVersion, true
		}
		return APIVersion{Major: major}, true
	}
	return APIVersion{}, false
}

func (vm *VersionMiddleware) handleIncompatibleVersion(w http.ResponseWriter, r *http.Request, compatibility VersionCompatibility) {
	statusCode := http.StatusNotImplemented
	if compatibility.Requested.Compare(MinimumSupportedVersion) < 0 {
		statusCode = http.StatusUpgradeRequired
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "VERSION_INCOMPATIBLE",
			"message": "API version incompatible",
			"details": compatibility,
		},
	}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		vm.logger.WithError(err).Error("Failed to encode version error response")
	}

	vm.logger.WithFields(logrus.Fields{
		"requested_version": compatibility.Requested.String(),
		"current_version":   compatibility.Current.String(),
		"errors":            compatibility.Errors,
		"path":              r.URL.Path,
	}).Warn("Incompatible API version requested")
}

// GetVersionFromContext extracts the API version from request context
func GetVersionFromContext(ctx context.Context) (APIVersion, bool) {
	version, ok := ctx.Value(versionContextKey).(APIVersion)
	return version, ok
}

// FeatureGate checks if a feature is available in the request's version
func FeatureGate(ctx context.Context, featureName string) bool {
	version, ok := GetVersionFromContext(ctx)
	if !ok {
		return false
	}
	feature, exists := GetFeature(featureName)
	if !exists {
		return false
	}
	return version.SupportsFeature(feature.IntroducedIn)
}

// RequireFeature answers 501 when the request's version predates featureName
func RequireFeature(featureName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !FeatureGate(r.Context(), featureName) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotImplemented)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]interface{}{
						"code":    "FEATURE_NOT_AVAILABLE",
						"message": "Feature not available in this API version",
						"feature": featureName,
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
