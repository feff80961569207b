package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectCategory(t *testing.T) {
	tests := []struct {
		name    string
		results []GeocodeResult
		want    string
	}{
		{"no results", nil, "Uncategorized"},
		{"first preferred type wins", []GeocodeResult{{Types: []string{"restaurant", "food", "point_of_interest"}}}, "Restaurant"},
		{"result order of types is kept", []GeocodeResult{{Types: []string{"establishment", "point_of_interest", "cafe"}}}, "Point Of Interest"},
		{"underscores become spaces", []GeocodeResult{{Types: []string{"gas_station"}}}, "Gas Station"},
		{"only first result considered", []GeocodeResult{{Types: []string{"route"}}, {Types: []string{"cafe"}}}, "Location"},
		{"no preferred type", []GeocodeResult{{Types: []string{"street_address", "premise"}}}, "Location"},
		{"empty types", []GeocodeResult{{}}, "Location"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectCategory(tt.results))
		})
	}
}

func TestFormatCategory(t *testing.T) {
	assert.Equal(t, "Shopping Mall", formatCategory("shopping_mall"))
	assert.Equal(t, "Store", formatCategory("store"))
	assert.Equal(t, "", formatCategory(""))
}
