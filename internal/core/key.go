package core

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/quantmind-br/pahkat/internal/security"
)

// DefaultChannel is assumed when a package key carries no channel
const DefaultChannel = "stable"

const packagesSegment = "/packages/"

// PackageKey identifies a package within a repository. It is comparable and
// safe to use as a map key; two keys parsed from equivalent URLs are equal.
type PackageKey struct {
	Repository string
	ID         string
	Platform   string
	Arch       string
	Version    string
	Channel    string
}

// ParsePackageKey parses and normalises a package key URL of the form
// <repository>/packages/<id>[?platform=..&arch=..&version=..&channel=..]
func ParsePackageKey(raw string) (PackageKey, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return PackageKey{}, fmt.Errorf("parse package key %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return PackageKey{}, fmt.Errorf("parse package key %q: missing scheme or host", raw)
	}

	idx := strings.LastIndex(u.Path, packagesSegment)
	if idx < 0 {
		return PackageKey{}, fmt.Errorf("parse package key %q: missing %q segment", raw, packagesSegment)
	}

	id := strings.Trim(u.Path[idx+len(packagesSegment):], "/")
	if err := security.ValidatePackageName(id); err != nil {
		return PackageKey{}, fmt.Errorf("parse package key %q: %w", raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	repo := url.URL{
		Scheme: scheme,
		Host:   normalizeHost(scheme, u.Host),
		Path:   strings.TrimRight(u.Path[:idx], "/"),
	}

	q := u.Query()
	key := PackageKey{
		Repository: repo.String(),
		ID:         id,
		Platform:   q.Get("platform"),
		Arch:       q.Get("arch"),
		Version:    q.Get("version"),
		Channel:    q.Get("channel"),
	}
	if key.Version != "" {
		if err := security.ValidateVersion(key.Version); err != nil {
			return PackageKey{}, fmt.Errorf("parse package key %q: %w", raw, err)
		}
	}
	if key.Channel == "" {
		key.Channel = DefaultChannel
	}

	return key, nil
}

// normalizeHost lower-cases host and drops the scheme's default port
func normalizeHost(scheme, host string) string {
	host = strings.ToLower(host)
	switch {
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	}
	return host
}

// MustParsePackageKey is like ParsePackageKey but panics on error
func MustParsePackageKey(raw string) PackageKey {
	key, err := ParsePackageKey(raw)
	if err != nil {
		panic(err)
	}
	return key
}

// IsZero reports whether the key is unset
func (k PackageKey) IsZero() bool {
	return k.Repository == "" && k.ID == ""
}

// String returns the canonical URL form of the key
func (k PackageKey) String() string {
	if k.IsZero() {
		return ""
	}

	params := make([]string, 0, 4)
	add := func(name, value string) {
		if value != "" {
			params = append(params, name+"="+url.QueryEscape(value))
		}
	}
	add("platform", k.Platform)
	add("arch", k.Arch)
	add("version", k.Version)
	if k.Channel != DefaultChannel {
		add("channel", k.Channel)
	}
	sort.Strings(params)

	s := k.Repository + packagesSegment + k.ID
	if len(params) > 0 {
		s += "?" + strings.Join(params, "&")
	}
	return s
}

// MarshalText implements encoding.TextMarshaler
func (k PackageKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *PackageKey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = PackageKey{}
		return nil
	}
	parsed, err := ParsePackageKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
