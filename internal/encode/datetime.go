package encode

import (
	"fmt"
	"github.com/davejbax/go-isofs/internal/spec"
	"time"
)

// AsDateTime converts a time to the 7-byte directory record form, in UTC. The zero time encodes as all zeros, which
// readers take to mean 'not specified'.
func AsDateTime(t time.Time) spec.DateTime {
	if t.IsZero() {
		return spec.DateTime{}
	}

	t = t.UTC()
	return spec.DateTime{
		YearsSince1900:            uint8(t.Year() - 1900),
		Month:                     uint8(t.Month()),
		Day:                       uint8(t.Day()),
		Hour:                      uint8(t.Hour()),
		Minute:                    uint8(t.Minute()),
		Second:                    uint8(t.Second()),
		GMTOffsetIn15MinIntervals: 0,
	}
}

// AsLongDateTime converts a time to the 17-byte volume descriptor form, in UTC. The zero time encodes as
// [spec.ZeroLongDateTime].
func AsLongDateTime(t time.Time) spec.LongDateTime {
	if t.IsZero() {
		return spec.ZeroLongDateTime
	}

	t = t.UTC()

	var d spec.LongDateTime
	copy(d.YearDigits[:], fmt.Sprintf("%04d", t.Year()))
	copy(d.MonthDigits[:], fmt.Sprintf("%02d", int(t.Month())))
	copy(d.DayDigits[:], fmt.Sprintf("%02d", t.Day()))
	copy(d.HourDigits[:], fmt.Sprintf("%02d", t.Hour()))
	copy(d.MinuteDigits[:], fmt.Sprintf("%02d", t.Minute()))
	copy(d.SecondDigits[:], fmt.Sprintf("%02d", t.Second()))
	copy(d.CentisecondsDigits[:], fmt.Sprintf("%02d", t.Nanosecond()/int(10*time.Millisecond)))

	return d
}
