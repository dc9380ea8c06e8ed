package entity

import "time"

// ListingCard is the summary parsed from an index page, enough to decide
// whether the detail page is worth fetching.
type ListingCard struct {
	URL          string
	DivarID      string
	Title        string
	ThumbnailURL string
	Descriptions []string
}

// Listing mirrors the `listings` PostgreSQL table schema. Every numeric
// field is stored in Latin-digit, base-unit form; a field absent on the
// page stays nil.
type Listing struct {
	DivarID     string
	Title       string
	Description string
	URL         string

	// Pricing, in the source's base monetary unit (toman). No conversion.
	TotalPrice    *int64
	PricePerMeter *int64
	RentPrice     *int64
	Deposit       *int64

	// Measurements in square meters, floors as presented.
	Area        *int
	LandArea    *int
	BuiltArea   *int
	Rooms       *int
	YearBuilt   *int
	Floor       *int
	TotalFloors *int
	Frontage    *int

	HasElevator bool
	HasParking  bool
	HasStorage  bool
	HasBalcony  bool

	BuildingDirection string
	UnitStatus        string
	DocumentType      string
	UsageType         string
	PropertyType      string

	CategoryName string
	ListingType  string // buy, rent

	CityName     string
	District     string
	Neighborhood string
	Address      string
	Latitude     *float64
	Longitude    *float64

	PhoneNumber string

	Features  []string
	Amenities []string
	// Images preserves the order presented by the source.
	Images []string

	ScrapedAt time.Time
}
