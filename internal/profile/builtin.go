package profile

import (
	"math/big"
	"strconv"
	"strings"
)

// Recognizer identifiers of the built-in pattern groups and the lists.
const (
	GroupEmail             = "email"
	GroupPhone             = "phone"
	GroupSSN               = "ssn"
	GroupFilename          = "filename"
	GroupIP                = "ip"
	GroupIBAN              = "iban"
	GroupRegistrationPlate = "registration_plate"
	GroupAddress           = "address"
	GroupProperty          = "property"
	GroupCustomRegex       = "custom_regex"

	RecognizerGrantList = "grantlist"
	RecognizerBlockList = "blocklist"
)

// DefaultRecognizers is the active set used when neither the profile nor
// the caller names one. External detectors are opt-in.
var DefaultRecognizers = []string{
	GroupEmail,
	GroupPhone,
	GroupSSN,
	GroupFilename,
	GroupIP,
	GroupIBAN,
	GroupRegistrationPlate,
	GroupAddress,
	GroupProperty,
	GroupCustomRegex,
	RecognizerBlockList,
	RecognizerGrantList,
}

// DefaultLabels returns a fresh copy of the default label map.
func DefaultLabels() map[string]string {
	return map[string]string{
		"ADDRESS":               "<OSOITE>",
		"EMAIL_ADDRESS":         "<SÄHKÖPOSTI>",
		"FI_REGISTRATION_PLATE": "<REKISTERINUMERO>",
		"PHONE_NUMBER":          "<PUHELIN>",
		"FI_SSN":                "<HENKILÖTUNNUS>",
		"IP_ADDRESS":            "<IP-OSOITE>",
		"IBAN_CODE":             "<TILINUMERO>",
		"OTHER":                 "<KIELTOLISTA_TUNNISTE>",
		"REAL_PROPERTY_ID":      "<KIINTEISTÖTUNNUS>",
		"PERSON":                "<NIMI>",
		"LOCATION":              "<SIJAINTI>",
		"ORGANIZATION":          "<ORGANISAATIO>",
		"FILENAME":              "<TIEDOSTONIMI>",
	}
}

// BuiltinPatterns returns the built-in pattern table in evaluation order.
// Expressions are RE2; Go's \b is ASCII-only, so patterns that start with a
// non-ASCII letter anchor on \p{Lu} instead.
func BuiltinPatterns() []Pattern {
	defs := []struct {
		group, name, expr, entityType string
		score                         float64
		invalidate                    func(string) bool
	}{
		{GroupEmail, "email", `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, "EMAIL_ADDRESS", 1.0, nil},

		{GroupPhone, "finnish_phone", `\+358\d{7,9}`, "PHONE_NUMBER", 0.95, nil},
		{GroupPhone, "finnish_phone_spaced", `\+358\s\d{1,3}\s?\d{3}\s?\d{3,4}\b`, "PHONE_NUMBER", 0.85, nil},
		{GroupPhone, "phone_international", `\+\d{11,12}\b`, "PHONE_NUMBER", 0.7, nil},
		{GroupPhone, "phone_local", `\b0\d{1,2}[\s\-]?\d{3,4}[\s\-]?\d{3,4}\b`, "PHONE_NUMBER", 0.7, nil},

		{GroupSSN, "ssn_finnish", `\b[0-3]\d[01]\d{3}[\-+A-FU-Y]\d{3}[0-9A-Y]\b`, "FI_SSN", 1.0, invalidSSN},
		{GroupSSN, "ssn_finnish_partial", `\b[0-3]\d[01]\d{3}[\-+A]`, "FI_SSN", 0.6, invalidSSN},

		{GroupFilename, "file_url", `[A-Za-z][A-Za-z0-9+.\-]*://\S+?\.(?:txt|docx?|xlsx?|pdf|jpe?g|png|pptx?)\b`, "FILENAME", 0.75, nil},
		{GroupFilename, "file_name", `\b[\w\-]+\.(?:txt|docx?|xlsx?|pdf|jpe?g|png|pptx?)\b`, "FILENAME", 0.7, nil},

		{GroupIP, "ipv4", `\b(?:\d{1,3}\.){3}\d{1,3}\b`, "IP_ADDRESS", 0.95, invalidIPv4},

		{GroupIBAN, "iban", `\b[A-Z]{2}\d{2}(?:\s?[A-Z0-9]{4}){2,7}(?:\s?[A-Z0-9]{1,3})?\b`, "IBAN_CODE", 0.9, invalidIBAN},

		{GroupRegistrationPlate, "plate_car", `\b[A-Za-z]{2,3}-\d{3}\b`, "FI_REGISTRATION_PLATE", 0.75, nil},
		{GroupRegistrationPlate, "plate_diplomat", `\b[A-Za-z]{2}-\d{4}\b`, "FI_REGISTRATION_PLATE", 0.5, nil},

		{GroupAddress, "street", `\p{Lu}\p{L}+(?:katu|tie|kuja|polku|gatan|vägen|väylä)(?:\s\d+(?:\s?[A-Za-z])?(?:\s?\d+)?)?`, "ADDRESS", 0.85, nil},
		{GroupAddress, "zip", `\b\d{5}\b`, "ADDRESS", 0.6, nil},

		{GroupProperty, "property_id", `\b\d{1,3}-\d{1,3}-\d{1,4}-\d{1,4}(?:-[0-9A-Za-z]{1,4})?\b`, "REAL_PROPERTY_ID", 0.7, nil},
		{GroupProperty, "property_id_compact", `\b\d{14,19}\b`, "REAL_PROPERTY_ID", 0.3, nil},
	}

	out := make([]Pattern, 0, len(defs))
	for _, s := range defs {
		out = append(out, Pattern{
			Name:       s.name,
			Regex:      s.expr,
			EntityType: s.entityType,
			Score:      s.score,
			Group:      s.group,
			Invalidate: s.invalidate,
		})
	}
	return out
}

// invalidSSN rejects matches with repeated century or separator marks.
func invalidSSN(match string) bool {
	upper := strings.ToUpper(match)
	return strings.Count(upper, "A") > 2 || strings.Count(upper, "-") > 1 || strings.Count(upper, "+") > 1
}

func invalidIPv4(match string) bool {
	for _, part := range strings.Split(match, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return true
		}
	}
	return false
}

// invalidIBAN applies the ISO 13616 mod-97 check.
func invalidIBAN(match string) bool {
	s := strings.Join(strings.Fields(match), "")
	if len(s) < 15 || len(s) > 34 {
		return true
	}
	rearranged := s[4:] + s[:4]
	var digits strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			digits.WriteString(strconv.Itoa(int(r-'A') + 10))
		default:
			return true
		}
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return true
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() != 1
}
