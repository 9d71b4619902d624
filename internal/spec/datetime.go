package spec

import (
	"strconv"
	"time"
)

// DateTime is a numerical representation of a date and time, as used in directory records and Rock Ridge time stamps
//
// ECMA-119 (5th ed.) §10.1.6
type DateTime struct {
	YearsSince1900            uint8
	Month                     uint8
	Day                       uint8
	Hour                      uint8
	Minute                    uint8
	Second                    uint8
	GMTOffsetIn15MinIntervals int8
}

// Time converts the date and time to a [time.Time]. An all-zero DateTime means 'not specified' and converts to the
// zero time.
func (d DateTime) Time() time.Time {
	if d == (DateTime{}) {
		return time.Time{}
	}

	return time.Date(
		int(d.YearsSince1900)+1900,
		time.Month(d.Month),
		int(d.Day),
		int(d.Hour),
		int(d.Minute),
		int(d.Second),
		0,
		time.FixedZone("", int(d.GMTOffsetIn15MinIntervals)*15*60),
	)
}

// LongDateTime is a character (digit) representation of date and time
//
// ECMA-119 (5th ed.) §9.4.27.2
type LongDateTime struct {
	YearDigits                [4]uint8
	MonthDigits               [2]uint8
	DayDigits                 [2]uint8
	HourDigits                [2]uint8
	MinuteDigits              [2]uint8
	SecondDigits              [2]uint8
	CentisecondsDigits        [2]uint8
	GMTOffsetIn15MinIntervals int8
}

// ZeroLongDateTime represents the zero-value of the [LongDateTime] type
//
// ECMA-119 (5th ed.) §9.4.27.2
var ZeroLongDateTime = LongDateTime{
	YearDigits:                [4]uint8{'0', '0', '0', '0'},
	MonthDigits:               [2]uint8{'0', '0'},
	DayDigits:                 [2]uint8{'0', '0'},
	HourDigits:                [2]uint8{'0', '0'},
	MinuteDigits:              [2]uint8{'0', '0'},
	SecondDigits:              [2]uint8{'0', '0'},
	CentisecondsDigits:        [2]uint8{'0', '0'},
	GMTOffsetIn15MinIntervals: 0,
}

// Time converts the long date and time to a [time.Time]. [ZeroLongDateTime], and any value whose digits cannot be
// parsed, converts to the zero time.
func (d LongDateTime) Time() time.Time {
	digits := func(b []uint8) int {
		v, err := strconv.Atoi(string(b))
		if err != nil {
			return -1
		}
		return v
	}

	year := digits(d.YearDigits[:])
	month := digits(d.MonthDigits[:])
	if year <= 0 || month <= 0 {
		return time.Time{}
	}

	return time.Date(
		year,
		time.Month(month),
		digits(d.DayDigits[:]),
		digits(d.HourDigits[:]),
		digits(d.MinuteDigits[:]),
		digits(d.SecondDigits[:]),
		digits(d.CentisecondsDigits[:])*int(10*time.Millisecond),
		time.FixedZone("", int(d.GMTOffsetIn15MinIntervals)*15*60),
	)
}
