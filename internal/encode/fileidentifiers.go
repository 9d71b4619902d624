package encode

import (
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/spec"
	"strconv"
	"strings"
)

var (
	ErrInvalidVersion     = errors.New("invalid file version number; must be in the range 1-32767 (inclusive)")
	ErrMissingVersion     = errors.New("file identifier has no ';' version separator")
	ErrMissingSeparator   = errors.New("file identifier has no '.' extension separator")
	ErrEmptyIdentifier    = errors.New("file identifier must have at least one character in its name or extension")
	ErrIdentifierTooLong  = errors.New("file identifier is too long for the interchange level")
	ErrReservedIdentifier = errors.New("'.' and '..' are reserved identifiers")
)

const (
	MaxFileVersion = 32767

	// Level 1 identifiers are limited to 8.3
	level1MaxNameLength      = 8
	level1MaxExtensionLength = 3

	// Levels 2 and 3 limit file identifiers to 30 characters, excluding separators and version, and directory
	// identifiers to 31 characters
	level2MaxFileLength      = 30
	level2MaxDirectoryLength = 31

	// Level 4 (ISO9660:1999) allows anything that fits in a directory record
	level4MaxLength = 207
)

// ValidateFileIdentifier checks a primary-namespace file or directory identifier against the naming rules of the given
// interchange level. Identifiers at levels 1 to 3 consist of d-characters; files are of the form NAME.EXT;VERSION.
// Level 4 identifiers may contain any byte except '/' and NUL, and the version is optional.
//
// ECMA-119 (5th ed.) §7.5, §7.6, §10
func ValidateFileIdentifier(identifier string, level int, directory bool) error {
	if identifier == "" {
		return ErrEmptyIdentifier
	}

	if identifier == "." || identifier == ".." {
		return ErrReservedIdentifier
	}

	if level >= 4 {
		if len(identifier) > level4MaxLength {
			return fmt.Errorf("%w: %d bytes, maximum is %d", ErrIdentifierTooLong, len(identifier), level4MaxLength)
		}

		if strings.ContainsAny(identifier, "/\x00") {
			return ErrInvalidCharacters
		}

		return nil
	}

	if directory {
		maxLength := level2MaxDirectoryLength
		if level == 1 {
			maxLength = level1MaxNameLength
		}

		if len(identifier) > maxLength {
			return fmt.Errorf("%w: %d characters, maximum is %d", ErrIdentifierTooLong, len(identifier), maxLength)
		}

		if !IsDCharacters(identifier) {
			return ErrInvalidCharacters
		}

		return nil
	}

	rest, version, found := strings.Cut(identifier, ";")
	if !found {
		return ErrMissingVersion
	}

	if _, err := ParseVersion(version); err != nil {
		return err
	}

	name, extension, found := strings.Cut(rest, ".")
	if !found {
		return ErrMissingSeparator
	}

	if name == "" && extension == "" {
		return ErrEmptyIdentifier
	}

	if !IsDCharacters(name) || !IsDCharacters(extension) {
		return ErrInvalidCharacters
	}

	if level == 1 {
		if len(name) > level1MaxNameLength || len(extension) > level1MaxExtensionLength {
			return fmt.Errorf("%w: level 1 identifiers are limited to 8.3", ErrIdentifierTooLong)
		}
	} else if len(name)+len(extension) > level2MaxFileLength {
		return fmt.Errorf("%w: %d characters, maximum is %d", ErrIdentifierTooLong, len(name)+len(extension), level2MaxFileLength)
	}

	return nil
}

// ParseVersion parses the digits following the ';' separator of a file identifier
func ParseVersion(version string) (int, error) {
	if version == "" || strings.ContainsAny(version, "+-") {
		return 0, ErrInvalidVersion
	}

	v, err := strconv.Atoi(version)
	if err != nil || v < 1 || v > MaxFileVersion {
		return 0, ErrInvalidVersion
	}

	return v, nil
}

// AsFileIdentifier assembles a file identifier from its file name, extension and version
func AsFileIdentifier(filename string, extension string, version int) (spec.FileIdentifier, error) {
	if version < 1 || version > MaxFileVersion {
		return nil, ErrInvalidVersion
	}

	return spec.FileIdentifier(filename + "." + extension + ";" + strconv.Itoa(version)), nil
}

// MangleName derives an identifier that is valid at the given interchange level from an arbitrary file or directory
// name, such as one read from a host filesystem. Characters outside the d-character set are uppercased where possible
// and otherwise replaced with an underscore, and the name and extension are truncated to the level's limits.
func MangleName(name string, level int, directory bool) string {
	if level >= 4 {
		name = strings.Map(func(r rune) rune {
			if r == '/' || r == 0 {
				return '_'
			}
			return r
		}, name)

		if len(name) > level4MaxLength {
			name = name[:level4MaxLength]
		}

		if !directory && !strings.Contains(name, ";") {
			if len(name)+2 <= level4MaxLength {
				name += ";1"
			}
		}

		return name
	}

	toD := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z':
				return r - 'a' + 'A'
			case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
				return r
			default:
				return '_'
			}
		}, s)
	}

	if directory {
		name = toD(name)
		maxLength := level2MaxDirectoryLength
		if level == 1 {
			maxLength = level1MaxNameLength
		}

		if len(name) > maxLength {
			name = name[:maxLength]
		}

		return name
	}

	base, extension := name, ""
	if index := strings.LastIndex(name, "."); index > 0 {
		base, extension = name[:index], name[index+1:]
	}

	base, extension = toD(base), toD(extension)

	if level == 1 {
		if len(extension) > level1MaxExtensionLength {
			extension = extension[:level1MaxExtensionLength]
		}
		if len(base) > level1MaxNameLength {
			base = base[:level1MaxNameLength]
		}
	} else {
		if len(extension) > level2MaxFileLength-1 {
			extension = extension[:level2MaxFileLength-1]
		}
		if len(base)+len(extension) > level2MaxFileLength {
			base = base[:level2MaxFileLength-len(extension)]
		}
	}

	if base == "" && extension == "" {
		base = "_"
	}

	return base + "." + extension + ";1"
}
