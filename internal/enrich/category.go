package enrich

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	CategoryUncategorized = "Uncategorized"
	CategoryLocation      = "Location"
)

var preferredTypes = map[string]struct{}{
	"restaurant":        {},
	"cafe":              {},
	"store":             {},
	"supermarket":       {},
	"shopping_mall":     {},
	"gas_station":       {},
	"food":              {},
	"point_of_interest": {},
}

// SelectCategory picks the category label from the most specific result:
// its first type that is a preferred place type, formatted for display.
func SelectCategory(results []GeocodeResult) string {
	if len(results) == 0 {
		return CategoryUncategorized
	}
	for _, t := range results[0].Types {
		if _, ok := preferredTypes[t]; ok {
			return formatCategory(t)
		}
	}
	return CategoryLocation
}

// formatCategory turns a place type into a label: gas_station -> Gas Station.
func formatCategory(placeType string) string {
	// cases.Caser is stateful, so each call gets its own
	return cases.Title(language.Und).String(strings.ReplaceAll(placeType, "_", " "))
}
