package models

import (
	"time"
)

type Agency struct {
	AgencyID       string
	AgencyName     string
	AgencyURL      string
	AgencyTimezone string
	AgencyLang     string
	AgencyPhone    string
	AgencyFareURL  string
}

// Stop coordinates and optional integers are nil when absent or unparseable
type Stop struct {
	StopID             string
	StopCode           string
	StopName           string
	StopDesc           string
	StopLat            *float64
	StopLon            *float64
	LocationType       *int
	ParentStation      string
	ZoneID             string
	PlatformCode       string
	WheelchairBoarding *int
}

type Route struct {
	RouteID        string
	AgencyID       string
	RouteShortName string
	RouteLongName  string
	RouteDesc      string
	RouteType      int
	RouteURL       string
	RouteColor     string
	RouteTextColor string
}

type Trip struct {
	TripID               string
	RouteID              string
	ServiceID            string
	TripHeadsign         string
	TripShortName        string
	DirectionID          *int
	BlockID              string
	ShapeID              string
	WheelchairAccessible *int
	BikesAllowed         *int
}

type StopTime struct {
	TripID            string
	StopSequence      int
	StopID            string
	ArrivalTime       string // HH:MM:SS, may exceed 24:00:00
	DepartureTime     string // HH:MM:SS, may exceed 24:00:00
	StopHeadsign      string
	PickupType        *int
	DropOffType       *int
	Timepoint         *int
	ShapeDistTraveled *float64
}

type Calendar struct {
	ServiceID string
	Monday    bool
	Tuesday   bool
	Wednesday bool
	Thursday  bool
	Friday    bool
	Saturday  bool
	Sunday    bool
	StartDate time.Time
	EndDate   time.Time
}

// RunsOn reports whether the weekly pattern includes the weekday
func (c *Calendar) RunsOn(day time.Weekday) bool {
	switch day {
	case time.Monday:
		return c.Monday
	case time.Tuesday:
		return c.Tuesday
	case time.Wednesday:
		return c.Wednesday
	case time.Thursday:
		return c.Thursday
	case time.Friday:
		return c.Friday
	case time.Saturday:
		return c.Saturday
	default:
		return c.Sunday
	}
}

// Calendar exception types
const (
	ExceptionAdded   = 1
	ExceptionRemoved = 2
)

type CalendarDate struct {
	ServiceID     string
	Date          time.Time
	ExceptionType int
}

type Shape struct {
	ShapeID           string
	ShapePtLat        float64
	ShapePtLon        float64
	ShapePtSequence   int
	ShapeDistTraveled *float64
}

type Area struct {
	AreaID   string
	AreaName string
}

type StopArea struct {
	AreaID string
	StopID string
}

type Transfer struct {
	FromStopID      string
	ToStopID        string
	FromRouteID     string
	ToRouteID       string
	FromTripID      string
	ToTripID        string
	TransferType    *int
	MinTransferTime *int
}
