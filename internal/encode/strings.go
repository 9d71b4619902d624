package encode

import (
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/spec"
	"regexp"
	"strings"
)

var (
	// ErrBufferTooSmall indicates that the given output byte buffer is not large enough to hold the encoded result
	ErrBufferTooSmall = errors.New("provided slice buffer is not big enough to hold encoded result")

	// ErrInvalidCharacters indicates that the input string contains character incompatible with the given encoding.
	// Note that in non-strict mode, this error should not be thrown.
	ErrInvalidCharacters = errors.New("input string contains characters that violate encoding")
)

var aCharacterRegex = regexp.MustCompile(`^[A-Z0-9_!"%&'()*+,\-./:;<=>? ]*$`)

var dCharacterRegex = regexp.MustCompile(`^[A-Z0-9_]*$`)

// IsDCharacters reports whether every character of the input is a d-character
func IsDCharacters(input string) bool {
	return dCharacterRegex.MatchString(input)
}

// AsACharacters writes an input string into a fixed-width a-character field, filling the remainder with
// [spec.FillerByte]. If strict is true, [ErrInvalidCharacters] will be returned if the input string contains
// characters that cannot be represented directly with a-characters. If tryConvert is true, characters that can be
// represented with minor conversions (e.g. uppercasing) will be converted.
func AsACharacters(input string, output []byte, strict bool, tryConvert bool) error {
	return asCharacters(input, output, aCharacterRegex, strict, tryConvert)
}

// AsDCharacters writes an input string into a fixed-width d-character field, in the same manner as [AsACharacters]
func AsDCharacters(input string, output []byte, strict bool, tryConvert bool) error {
	return asCharacters(input, output, dCharacterRegex, strict, tryConvert)
}

func asCharacters(input string, output []byte, valid *regexp.Regexp, strict bool, tryConvert bool) error {
	if tryConvert {
		input = strings.ToUpper(input)
	}

	if strict && !valid.MatchString(input) {
		return ErrInvalidCharacters
	}

	if len(output) < len(input) {
		return fmt.Errorf("%w: %d bytes needed, have %d", ErrBufferTooSmall, len(input), len(output))
	}

	copy(output, input)
	FillCharacterArray(output[len(input):])

	return nil
}

// FillCharacterArray 'zeros' an array of a- or d-characters, where 'zeroing' means 'fill with the filler byte'
// ([spec.FillerByte]).
func FillCharacterArray(array []byte) {
	for i := range array {
		array[i] = spec.FillerByte
	}
}
