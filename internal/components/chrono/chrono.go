package chrono

import "time"

type API interface {
	Now() time.Time
	Location() *time.Location
}

type StandardImpl struct {
	location *time.Location
}

// NewStandardImpl loads the given IANA location, an empty name means UTC.
func NewStandardImpl(name string) (StandardImpl, error) {
	if name == "" {
		return StandardImpl{location: time.UTC}, nil
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}

// Fixed is an API frozen at T, tests move it forward with Advance.
type Fixed struct {
	T *time.Time
}

func NewFixed(t time.Time) Fixed {
	return Fixed{T: &t}
}

func (f Fixed) Now() time.Time {
	return *f.T
}

func (f Fixed) Location() *time.Location {
	return f.T.Location()
}

func (f Fixed) Advance(d time.Duration) {
	*f.T = f.T.Add(d)
}
