package security

import (
	"strings"
	"testing"
)

func TestValidatePackageName(t *testing.T) {
	tests := []struct {
		name    string
		pkgName string
		wantErr bool
	}{
		{
			name:    "valid simple name",
			pkgName: "speller-sme",
			wantErr: false,
		},
		{
			name:    "valid with underscores",
			pkgName: "keyboard_sme",
			wantErr: false,
		},
		{
			name:    "valid with dots",
			pkgName: "divvun.manager-1.0",
			wantErr: false,
		},
		{
			name:    "empty name",
			pkgName: "",
			wantErr: true,
		},
		{
			name:    "dot dot",
			pkgName: "..",
			wantErr: true,
		},
		{
			name:    "name with spaces",
			pkgName: "speller sme",
			wantErr: true,
		},
		{
			name:    "name with path traversal",
			pkgName: "../../../etc/passwd",
			wantErr: true,
		},
		{
			name:    "null byte injection",
			pkgName: "app\x00bad",
			wantErr: true,
		},
		{
			name:    "very long name",
			pkgName: strings.Repeat("a", 300),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePackageName(tt.pkgName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePackageName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{"semver", "1.2.3", false},
		{"prerelease", "1.0.0-beta.1", false},
		{"build metadata", "2.0+build5", false},
		{"empty", "", true},
		{"traversal", "1..2", true},
		{"slash", "1/2", true},
		{"too long", strings.Repeat("1", 120), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVersion(%q) error = %v, wantErr %v", tt.version, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAbsolutePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"absolute", "/home/user/.config/pahkat/config.toml", false},
		{"empty", "", true},
		{"relative", "config.toml", true},
		{"traversal", "/home/user/../root/config.toml", true},
		{"null byte", "/tmp/a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAbsolutePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAbsolutePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCommandArg(t *testing.T) {
	if err := ValidateCommandArg("--socket=/run/pahkat.sock"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateCommandArg("serve; rm -rf /"); err == nil {
		t.Error("expected error for command injection")
	}
}

func TestValidateInstallID(t *testing.T) {
	if err := ValidateInstallID("0b8e6a36-5c1f-4d5e-9a4e-5a1b2c3d4e5f"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateInstallID(""); err == nil {
		t.Error("expected error for empty id")
	}
	if err := ValidateInstallID("bad id"); err == nil {
		t.Error("expected error for id with space")
	}
}

func TestIsPathWithinDirectory(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		directory  string
		wantResult bool
		wantErr    bool
	}{
		{
			name:       "file within directory",
			path:       "/home/user/app/file.txt",
			directory:  "/home/user/app",
			wantResult: true,
		},
		{
			name:       "file is the directory itself",
			path:       "/home/user/app",
			directory:  "/home/user/app",
			wantResult: true,
		},
		{
			name:       "file outside directory",
			path:       "/home/user/other/file.txt",
			directory:  "/home/user/app",
			wantResult: false,
		},
		{
			name:       "path traversal attempt",
			path:       "/home/user/app/../other/file.txt",
			directory:  "/home/user/app",
			wantResult: false,
		},
		{
			name:       "name starting with dots stays inside",
			path:       "/home/user/app/..data",
			directory:  "/home/user/app",
			wantResult: true,
		},
		{
			name:      "relative path",
			path:      "subdir/file.txt",
			directory: "/home/user/app",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := IsPathWithinDirectory(tt.path, tt.directory)
			if (err != nil) != tt.wantErr {
				t.Errorf("IsPathWithinDirectory() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && result != tt.wantResult {
				t.Errorf("IsPathWithinDirectory() = %v, want %v", result, tt.wantResult)
			}
		})
	}
}
