package fieldmap

import (
	"strconv"

	"github.com/opensource-finance/plb/internal/domain"
)

// accessor reads one record attribute as zero or more strings.
type accessor func(r *domain.Record) []string

func str(get func(r *domain.Record) string) accessor {
	return func(r *domain.Record) []string {
		if v := get(r); v != "" {
			return []string{v}
		}
		return nil
	}
}

func list(get func(r *domain.Record) []string) accessor {
	return func(r *domain.Record) []string {
		return get(r)
	}
}

func date(get func(r *domain.Record) domain.Date) accessor {
	return func(r *domain.Record) []string {
		if d := get(r); !d.IsZero() {
			return []string{d.String()}
		}
		return nil
	}
}

// accessors is the set of record paths a mapping may reference.
var accessors = map[string]accessor{
	"source_system":        str(func(r *domain.Record) string { return r.SourceSystem }),
	"pcc":                  str(func(r *domain.Record) string { return r.PCC }),
	"ticket_number":        str(func(r *domain.Record) string { return string(r.TicketNumber) }),
	"coupon_number":        str(func(r *domain.Record) string { return string(r.CouponNumber) }),
	"cpn_airline_code":     str(func(r *domain.Record) string { return r.AirlineCode }),
	"cpn_fare_basis":       str(func(r *domain.Record) string { return r.FareBasis }),
	"cpn_RBD":              str(func(r *domain.Record) string { return r.RBD }),
	"iata":                 str(func(r *domain.Record) string { return r.IATA }),
	"cabin":                str(func(r *domain.Record) string { return r.Cabin }),
	"flight_number":        str(func(r *domain.Record) string { return string(r.FlightNumber) }),
	"airline_name":         str(func(r *domain.Record) string { return r.AirlineName }),
	"marketing_airline":    str(func(r *domain.Record) string { return r.MarketingAirline }),
	"operating_airline":    str(func(r *domain.Record) string { return r.OperatingAirline }),
	"ticketing_airline":    str(func(r *domain.Record) string { return r.TicketingAirline }),
	"corporate_code":       str(func(r *domain.Record) string { return r.CorporateCode }),
	"tour_codes":           str(func(r *domain.Record) string { return r.TourCodes }),
	"fare_type":            str(func(r *domain.Record) string { return r.FareType }),
	"cpn_origin":           str(func(r *domain.Record) string { return r.Origin }),
	"cpn_destination":      str(func(r *domain.Record) string { return r.Destination }),
	"route":                str(func(r *domain.Record) string { return r.Route }),
	"city_codes":           str(func(r *domain.Record) string { return r.CityCodes }),
	"coupon_itinerary":     str(func(r *domain.Record) string { return r.CouponItinerary }),
	"ticket_itinerary":     str(func(r *domain.Record) string { return r.TicketItinerary }),
	"ticket_origin":        str(func(r *domain.Record) string { return r.TicketOrigin }),
	"ticket_destination":   str(func(r *domain.Record) string { return r.TicketDestination }),
	"code_share":           str(func(r *domain.Record) string { return r.CodeShare }),
	"interline":            str(func(r *domain.Record) string { return r.Interline }),
	"ndc":                  str(func(r *domain.Record) string { return r.NDC }),
	"ond_array":            list(func(r *domain.Record) []string { return r.OndArray }),
	"pos_array":            list(func(r *domain.Record) []string { return r.PosArray }),
	"cpn_sales_date":       date(func(r *domain.Record) domain.Date { return r.SalesDate }),
	"cpn_flown_date":       date(func(r *domain.Record) domain.Date { return r.FlownDate }),
	"cpn_is_international": func(r *domain.Record) []string { return []string{strconv.FormatBool(r.IsInternational)} },
}

// lookup resolves a path name, tolerating the lower-cased column spelling.
func lookup(path string) (accessor, bool) {
	if a, ok := accessors[path]; ok {
		return a, true
	}
	if path == "cpn_rbd" {
		return accessors["cpn_RBD"], true
	}
	return nil, false
}

// KnownPath reports whether a path name can be read from a record.
func KnownPath(path string) bool {
	_, ok := lookup(path)
	return ok
}
