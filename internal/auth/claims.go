package auth

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ExtractGroups reads a group membership claim from identity-provider claims.
// Supports:
//   - Flat arrays: ["editorial", "two-factor-enrolled"]
//   - Nested objects: [{"name": "editorial"}] with claimPath="name"
//
// A missing claim is not an error; users without group data simply have no
// groups.
func ExtractGroups(claims map[string]interface{}, claimField string, claimPath string) ([]string, error) {
	rawValue, ok := claims[claimField]
	if !ok {
		return []string{}, nil
	}

	// Try flat string array first: ["editorial", "two-factor-enrolled"]
	if groups, ok := rawValue.([]interface{}); ok {
		result := make([]string, 0, len(groups))
		for _, g := range groups {
			if str, ok := g.(string); ok {
				result = append(result, str)
			}
		}
		if len(result) > 0 {
			return result, nil
		}
	}

	// Try nested extraction if path provided: [{"name": "editorial"}]
	if claimPath != "" {
		return extractNestedGroups(rawValue, claimPath)
	}

	return nil, fmt.Errorf("groups claim invalid format (expected []string or []object with path)")
}

// extractNestedGroups uses mapstructure to extract from nested objects.
// Only single-level paths like "name", "value", "id" are supported.
func extractNestedGroups(rawValue interface{}, path string) ([]string, error) {
	if path == "name" || path == "value" || path == "id" {
		var objects []map[string]interface{}
		if err := mapstructure.Decode(rawValue, &objects); err != nil {
			return nil, fmt.Errorf("failed to decode nested groups: %w", err)
		}

		result := make([]string, 0, len(objects))
		for _, obj := range objects {
			if val, ok := obj[path].(string); ok {
				result = append(result, val)
			}
		}
		return result, nil
	}

	return nil, fmt.Errorf("complex nested paths not supported (path: %s)", path)
}

// ExtractClaimString extracts a required string claim from identity-provider
// claims.
func ExtractClaimString(claims map[string]interface{}, claimField string) (string, error) {
	rawValue, ok := claims[claimField]
	if !ok {
		return "", fmt.Errorf("claim field %s not found", claimField)
	}

	value, ok := rawValue.(string)
	if !ok {
		return "", fmt.Errorf("claim field %s is not a string", claimField)
	}

	if value == "" {
		return "", fmt.Errorf("claim field %s is empty", claimField)
	}

	return value, nil
}

// ExtractEmailFromClaims extracts the email address that becomes the user's
// identity.
func ExtractEmailFromClaims(claims map[string]interface{}) (string, error) {
	return ExtractClaimString(claims, "email")
}

// ExtractNameFromClaims extracts the display name, falling back to an empty
// string when the provider sends none.
func ExtractNameFromClaims(claims map[string]interface{}) string {
	rawValue, ok := claims["name"]
	if !ok {
		return ""
	}

	name, ok := rawValue.(string)
	if !ok {
		return ""
	}

	return name
}
