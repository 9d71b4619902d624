package encode

import (
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/spec"
	"golang.org/x/text/encoding/unicode"
	"strings"
	"unicode/utf8"
)

// Joliet identifiers are encoded as UCS-2, which is UTF-16 restricted to the Basic Multilingual Plane
var jolietEncoding = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// JolietEscapeSequence is the escape sequence written to Joliet supplementary volume descriptors, designating UCS-2
// level 3
var JolietEscapeSequence = [3]uint8{'%', '/', 'E'}

// JolietEscapeSequences lists the escape sequences of all three Joliet levels, any of which identifies a Joliet
// descriptor when reading
var JolietEscapeSequences = [][3]uint8{
	{'%', '/', '@'},
	{'%', '/', 'C'},
	{'%', '/', 'E'},
}

// JolietMaxComponentLength is the maximum number of UCS-2 code units in a single Joliet name
const JolietMaxComponentLength = 64

// jolietForbiddenCharacters may not appear in Joliet names
const jolietForbiddenCharacters = "*/:;?\\"

var (
	ErrNotUCS2              = errors.New("name contains characters outside the Basic Multilingual Plane")
	ErrJolietNameTooLong    = fmt.Errorf("%w: Joliet names are limited to %d characters", ErrIdentifierTooLong, JolietMaxComponentLength)
	ErrInvalidJolietPadding = errors.New("Joliet identifier has an odd number of bytes")
)

// ValidateJolietName checks a single Joliet path component
func ValidateJolietName(name string) error {
	if name == "" {
		return ErrEmptyIdentifier
	}

	if name == "." || name == ".." {
		return ErrReservedIdentifier
	}

	if !utf8.ValidString(name) {
		return ErrInvalidCharacters
	}

	units := 0
	for _, r := range name {
		if r > 0xFFFF {
			return ErrNotUCS2
		}
		units++
	}

	if units > JolietMaxComponentLength {
		return ErrJolietNameTooLong
	}

	if strings.ContainsAny(name, jolietForbiddenCharacters) {
		return ErrInvalidCharacters
	}

	return nil
}

// AsJolietIdentifier encodes a Joliet name as a UCS-2 big endian file identifier
func AsJolietIdentifier(name string) (spec.FileIdentifier, error) {
	if err := ValidateJolietName(name); err != nil {
		return nil, err
	}

	encoded, err := jolietEncoding.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("could not encode Joliet name: %w", err)
	}

	return spec.FileIdentifier(encoded), nil
}

// FromJolietIdentifier decodes a UCS-2 big endian file identifier. A trailing ';1' version, which some writers add,
// is removed.
func FromJolietIdentifier(identifier []byte) (string, error) {
	if len(identifier)%2 != 0 {
		return "", ErrInvalidJolietPadding
	}

	decoded, err := jolietEncoding.NewDecoder().Bytes(identifier)
	if err != nil {
		return "", fmt.Errorf("could not decode Joliet name: %w", err)
	}

	name := string(decoded)
	if index := strings.LastIndex(name, ";"); index != -1 {
		name = name[:index]
	}

	return name, nil
}

// AsJolietField writes an input string into a fixed-width field of a Joliet volume descriptor, filling the remainder
// with UCS-2 spaces. An odd trailing byte is left as a single filler byte.
func AsJolietField(input string, output []byte) error {
	encoded, err := jolietEncoding.NewEncoder().Bytes([]byte(input))
	if err != nil {
		return fmt.Errorf("could not encode Joliet field: %w", err)
	}

	if len(encoded) > len(output) {
		return fmt.Errorf("%w: %d bytes needed, have %d", ErrBufferTooSmall, len(encoded), len(output))
	}

	copy(output, encoded)
	for i := len(encoded); i < len(output); i++ {
		if (i-len(encoded))%2 == 0 && i+1 < len(output) {
			output[i] = 0x00
		} else {
			output[i] = spec.FillerByte
		}
	}

	return nil
}

// FromJolietField decodes a fixed-width Joliet volume descriptor field, removing filler
func FromJolietField(field []byte) string {
	if len(field)%2 == 1 {
		field = field[:len(field)-1]
	}

	decoded, err := jolietEncoding.NewDecoder().Bytes(field)
	if err != nil {
		return ""
	}

	return strings.TrimRight(string(decoded), " \x00")
}
