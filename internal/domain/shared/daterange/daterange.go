package daterange

import (
	"errors"
	"time"
)

var (
	ErrInvalidRange = errors.New("daterange: check-out must be after check-in")
)

const dateLayout = "2006-01-02"

// DateRange is the trip window [CheckIn, CheckOut) normalized to UTC.
type DateRange struct {
	CheckIn  time.Time
	CheckOut time.Time
}

func New(checkIn, checkOut time.Time) (DateRange, error) {
	dr := DateRange{CheckIn: checkIn.UTC(), CheckOut: checkOut.UTC()}
	if err := dr.Validate(); err != nil {
		return DateRange{}, err
	}
	return dr, nil
}

// Parse builds a range from calendar dates in YYYY-MM-DD form.
func Parse(checkIn, checkOut string) (DateRange, error) {
	in, err := time.Parse(dateLayout, checkIn)
	if err != nil {
		return DateRange{}, errors.Join(ErrInvalidRange, err)
	}
	out, err := time.Parse(dateLayout, checkOut)
	if err != nil {
		return DateRange{}, errors.Join(ErrInvalidRange, err)
	}
	return New(in, out)
}

func (dr DateRange) Validate() error {
	if dr.CheckOut.IsZero() || dr.CheckIn.IsZero() {
		return ErrInvalidRange
	}
	if !dr.CheckOut.After(dr.CheckIn) {
		return ErrInvalidRange
	}
	return nil
}

func (dr DateRange) Nights() int {
	return int(dr.CheckOut.Sub(dr.CheckIn).Hours() / 24)
}

func (dr DateRange) CheckInDate() string {
	return dr.CheckIn.Format(dateLayout)
}

func (dr DateRange) CheckOutDate() string {
	return dr.CheckOut.Format(dateLayout)
}
