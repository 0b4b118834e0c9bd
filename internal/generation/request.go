package generation

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"

	"github.com/autobrr/licensor/internal/models"
)

// Request describes a license to issue. Zero caps and an empty feature list
// fall back to the tier defaults when a tier is given.
type Request struct {
	ProductID          string              `json:"productId" validate:"required,max=128"`
	ConsumerID         string              `json:"consumerId" validate:"required,max=128"`
	TierID             string              `json:"tierId,omitempty" validate:"omitempty,max=128"`
	Model              models.LicenseModel `json:"model" validate:"required"`
	ValidFrom          time.Time           `json:"validFrom,omitempty"`
	ValidTo            time.Time           `json:"validTo,omitempty"`
	MinVersion         string              `json:"minVersion,omitempty" validate:"omitempty,max=64"`
	MaxVersion         string              `json:"maxVersion,omitempty" validate:"omitempty,max=64"`
	Features           []string            `json:"features,omitempty" validate:"omitempty,dive,required,max=64"`
	MaxActivations     int                 `json:"maxActivations,omitempty" validate:"gte=0,lte=100000"`
	MaxConcurrentUsers int                 `json:"maxConcurrentUsers,omitempty" validate:"gte=0,lte=100000"`
	Metadata           map[string]string   `json:"metadata,omitempty" validate:"omitempty,dive,keys,required,max=64,endkeys,max=1024"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report json field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

// validateStruct runs the struct tag rules and converts the first failure
func validateStruct(req *Request) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrors) == 0 {
		return fmt.Errorf("failed to validate request: %w", err)
	}

	fe := fieldErrors[0]
	return newValidationError(fe.Field(), "%s", describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return fmt.Sprintf("failed %q rule", fe.Tag())
}

// validateVersions checks both bounds parse as semver and min <= max
func validateVersions(minVersion, maxVersion string) error {
	var lower, upper *semver.Version

	if minVersion != "" {
		v, err := semver.NewVersion(minVersion)
		if err != nil {
			return newValidationError("minVersion", "%q is not a semantic version", minVersion)
		}
		lower = v
	}

	if maxVersion != "" {
		v, err := semver.NewVersion(maxVersion)
		if err != nil {
			return newValidationError("maxVersion", "%q is not a semantic version", maxVersion)
		}
		upper = v
	}

	if lower != nil && upper != nil && lower.GreaterThan(upper) {
		return newValidationError("maxVersion", "must not be lower than minVersion %s", minVersion)
	}

	return nil
}

// normalizeFeatures trims, dedups and sorts the feature list
func normalizeFeatures(features []string) []string {
	if len(features) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(features))
	out := make([]string, 0, len(features))
	for _, f := range features {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}

	sort.Strings(out)
	return out
}
