package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ValidPackageNameRegex allows alphanumeric, dash, underscore, and dot
	ValidPackageNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

	// ValidVersionRegex allows standard version formats
	ValidVersionRegex = regexp.MustCompile(`^[a-zA-Z0-9._+-]+$`)

	validInstallIDRegex = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
)

// ValidatePackageName validates a package identifier for safety
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}

	if len(name) > 255 {
		return fmt.Errorf("package name too long (max 255 characters)")
	}

	if name == "." || name == ".." {
		return fmt.Errorf("invalid package name: %q", name)
	}

	if !ValidPackageNameRegex.MatchString(name) {
		return fmt.Errorf("invalid package name: must contain only alphanumeric, dash, underscore, or dot characters")
	}

	return nil
}

// ValidateVersion validates a version string
func ValidateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("invalid version: version cannot be empty")
	}

	if len(version) >= 100 {
		return fmt.Errorf("version string too long (max 100 characters)")
	}

	if strings.Contains(version, "..") {
		return fmt.Errorf("invalid version: contains dangerous pattern: ..")
	}

	if !ValidVersionRegex.MatchString(version) {
		return fmt.Errorf("invalid version format: must be alphanumeric with dots, dashes, or plus signs")
	}

	return nil
}

// ValidateAbsolutePath validates a path handed across the privilege boundary.
// The path must be absolute, clean of null bytes and traversal segments.
func ValidateAbsolutePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if len(path) >= 4096 {
		return fmt.Errorf("path too long (max 4096 characters)")
	}

	if strings.Contains(path, "\x00") {
		return fmt.Errorf("path contains null byte")
	}

	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute: %s", path)
	}

	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return fmt.Errorf("path contains traversal segment: %s", path)
		}
	}

	return nil
}

// ValidateCommandArg validates a command-line argument for safety
func ValidateCommandArg(arg string) error {
	if strings.Contains(arg, "\x00") {
		return fmt.Errorf("argument contains null byte")
	}

	dangerousChars := []string{
		";", "&", "|", "`", "$", "(", ")", "<", ">", "\n", "\r",
	}

	for _, char := range dangerousChars {
		if strings.Contains(arg, char) {
			return fmt.Errorf("argument contains dangerous character: %s", char)
		}
	}

	return nil
}

// ValidateInstallID validates an install ID format
func ValidateInstallID(id string) error {
	if id == "" {
		return fmt.Errorf("install ID cannot be empty")
	}

	if !validInstallIDRegex.MatchString(id) {
		return fmt.Errorf("invalid install ID format")
	}

	if len(id) > 100 {
		return fmt.Errorf("install ID too long")
	}

	return nil
}

// IsPathWithinDirectory checks if targetPath is within basePath. Both
// paths must be absolute.
func IsPathWithinDirectory(targetPath, basePath string) (bool, error) {
	if !filepath.IsAbs(targetPath) {
		return false, fmt.Errorf("target path must be absolute, got relative path: %s", targetPath)
	}
	if !filepath.IsAbs(basePath) {
		return false, fmt.Errorf("base path must be absolute, got relative path: %s", basePath)
	}

	rel, err := filepath.Rel(filepath.Clean(basePath), filepath.Clean(targetPath))
	if err != nil {
		return false, fmt.Errorf("failed to compute relative path: %w", err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, nil
	}

	return true, nil
}
