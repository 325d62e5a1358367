// Package canon implements the single typed canonicalizer family for IP
// addresses, domains, hashes, emails, and timestamps. Every parser in
// pkg/ingest routes values through these functions rather than through an
// ad-hoc permissive path, per the one-canonicalizer-family design decision
// recorded in DESIGN.md.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"github.com/cuemby/vigil/pkg/vigilerr"
)

const (
	ipVersion        = 1
	domainVersion    = 1
	hashVersion      = 1
	emailVersion     = 1
	timestampVersion = 1
	keyVersion       = 1
)

// IP is a normalized IP address or CIDR range.
type IP struct {
	Canonical string
	Version   int
	IsCIDR    bool
}

// Domain is a normalized, lowercase, IDNA-encoded domain name.
type Domain struct {
	Canonical string
	Version   int
}

// Hash is a normalized, lowercase hex-encoded hash with detected algorithm.
type Hash struct {
	Canonical string
	Algorithm string
	Version   int
}

// Email is a normalized email address: case-sensitive local part per
// RFC 5321, domain-normalized right-hand side.
type Email struct {
	Canonical string
	Version   int
}

// Timestamp is a normalized RFC3339 UTC timestamp at second resolution.
type Timestamp struct {
	Canonical string
	Version   int
}

// Key is a salted, versioned canonical key derived from a normalized value.
type Key struct {
	Value   string
	Salt    string
	Version int
}

// NormalizeIP parses input as an IP address or CIDR range and returns its
// canonical string form. Leading/trailing whitespace is trimmed.
func NormalizeIP(input string) (IP, error) {
	input = strings.TrimSpace(input)

	if slash := strings.IndexByte(input, '/'); slash >= 0 {
		addrPart := strings.TrimSpace(input[:slash])
		prefixPart := strings.TrimSpace(input[slash+1:])

		addr := net.ParseIP(addrPart)
		if addr == nil {
			return IP{}, vigilerr.New(vigilerr.KindInvalidCanonCIDR, fmt.Sprintf("invalid CIDR: %s", input))
		}
		prefix, err := strconv.Atoi(prefixPart)
		if err != nil {
			return IP{}, vigilerr.New(vigilerr.KindInvalidCanonCIDR, fmt.Sprintf("invalid CIDR: %s", input))
		}

		maxPrefix := 32
		if addr.To4() == nil {
			maxPrefix = 128
		}
		if prefix < 0 || prefix > maxPrefix {
			return IP{}, vigilerr.New(vigilerr.KindInvalidCanonCIDR,
				fmt.Sprintf("prefix length %d exceeds maximum %d for %s", prefix, maxPrefix, addr))
		}

		return IP{
			Canonical: fmt.Sprintf("%s/%d", canonicalIPString(addr), prefix),
			Version:   ipVersion,
			IsCIDR:    true,
		}, nil
	}

	addr := net.ParseIP(input)
	if addr == nil {
		return IP{}, vigilerr.New(vigilerr.KindInvalidCanonIP, fmt.Sprintf("invalid IP address: %s", input))
	}

	return IP{
		Canonical: canonicalIPString(addr),
		Version:   ipVersion,
		IsCIDR:    false,
	}, nil
}

func canonicalIPString(addr net.IP) string {
	if v4 := addr.To4(); v4 != nil {
		return v4.String()
	}
	return addr.String()
}

// NormalizeDomain lowercases, IDNA-encodes, and strips a trailing dot from
// a domain name.
func NormalizeDomain(input string) (Domain, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Domain{}, vigilerr.New(vigilerr.KindInvalidCanonDomain, "empty domain")
	}

	input = strings.TrimSuffix(input, ".")

	ascii, err := idna.Lookup.ToASCII(input)
	if err != nil {
		return Domain{}, vigilerr.Wrap(vigilerr.KindInvalidCanonDomain, fmt.Sprintf("%s", input), err)
	}

	canonical := strings.ToLower(ascii)
	if canonical == "" {
		return Domain{}, vigilerr.New(vigilerr.KindInvalidCanonDomain, "domain normalized to empty string")
	}

	return Domain{Canonical: canonical, Version: domainVersion}, nil
}

// NormalizeHash lowercases a hex digest and detects its algorithm from its
// length (md5/sha1/sha256/sha384/sha512).
func NormalizeHash(input string) (Hash, error) {
	input = strings.TrimSpace(input)

	for _, r := range input {
		if !isHexDigit(r) {
			return Hash{}, vigilerr.New(vigilerr.KindInvalidCanonHash,
				fmt.Sprintf("non-hex characters in hash: %s", input))
		}
	}

	canonical := strings.ToLower(input)

	var algorithm string
	switch len(canonical) {
	case 32:
		algorithm = "md5"
	case 40:
		algorithm = "sha1"
	case 64:
		algorithm = "sha256"
	case 96:
		algorithm = "sha384"
	case 128:
		algorithm = "sha512"
	default:
		return Hash{}, vigilerr.New(vigilerr.KindInvalidCanonHash,
			fmt.Sprintf("unrecognized hash length: %d (expected 32/40/64/96/128)", len(canonical)))
	}

	return Hash{Canonical: canonical, Algorithm: algorithm, Version: hashVersion}, nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// NormalizeEmail splits on the last '@', normalizes the domain, and
// preserves the local part's case per RFC 5321.
func NormalizeEmail(input string) (Email, error) {
	input = strings.TrimSpace(input)

	at := strings.LastIndexByte(input, '@')
	if at < 0 {
		return Email{}, vigilerr.New(vigilerr.KindInvalidCanonEmail, fmt.Sprintf("missing @ in email: %s", input))
	}
	if at == 0 {
		return Email{}, vigilerr.New(vigilerr.KindInvalidCanonEmail, fmt.Sprintf("empty local part: %s", input))
	}
	if at == len(input)-1 {
		return Email{}, vigilerr.New(vigilerr.KindInvalidCanonEmail, fmt.Sprintf("empty domain part: %s", input))
	}

	local := input[:at]
	domainPart := input[at+1:]

	domain, err := NormalizeDomain(domainPart)
	if err != nil {
		return Email{}, err
	}

	return Email{
		Canonical: local + "@" + domain.Canonical,
		Version:   emailVersion,
	}, nil
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
}

// NormalizeTimestamp parses input as RFC3339, a Unix second count, or one of
// several common date-time layouts, and returns an RFC3339 UTC canonical
// form at second resolution.
func NormalizeTimestamp(input string) (Timestamp, error) {
	input = strings.TrimSpace(input)

	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return Timestamp{Canonical: formatUTC(t), Version: timestampVersion}, nil
	}

	if secs, err := strconv.ParseInt(input, 10, 64); err == nil {
		return Timestamp{Canonical: formatUTC(time.Unix(secs, 0)), Version: timestampVersion}, nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, input); err == nil {
			return Timestamp{Canonical: formatUTC(t), Version: timestampVersion}, nil
		}
	}

	return Timestamp{}, vigilerr.New(vigilerr.KindInvalidCanonTimestamp,
		fmt.Sprintf("could not parse timestamp: %s", input))
}

func formatUTC(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

// GenerateKey derives a canonical key from a normalized value and a salt:
// SHA-256(salt + ":v" + version + ":" + value), hex-encoded. This replaces
// the non-cryptographic DefaultHasher the original prototype used — see
// DESIGN.md.
func GenerateKey(normalizedValue, salt string) Key {
	input := fmt.Sprintf("%s:v%d:%s", salt, keyVersion, normalizedValue)
	sum := sha256.Sum256([]byte(input))
	return Key{
		Value:   hex.EncodeToString(sum[:]),
		Salt:    salt,
		Version: keyVersion,
	}
}
