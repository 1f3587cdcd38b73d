package rail

import (
	"sort"
	"strconv"
	"strings"
)

// Basic GTFS route types counted as rail
var basicRailTypes = []int{
	0,  // tram, light rail
	1,  // subway, metro
	2,  // rail
	7,  // funicular
	12, // monorail
}

// Extended route type ranges counted as rail, inclusive
var extendedRailRanges = [][2]int{
	{100, 117},   // railway services
	{400, 405},   // urban railway, metro, underground, monorail
	{900, 906},   // tram services
	{1400, 1400}, // funicular service
}

// IsRailType reports whether a route_type value belongs to the rail whitelist
func IsRailType(routeType int) bool {
	for _, t := range basicRailTypes {
		if t == routeType {
			return true
		}
	}
	for _, r := range extendedRailRanges {
		if routeType >= r[0] && routeType <= r[1] {
			return true
		}
	}
	return false
}

// RailRouteTypes returns every whitelisted route_type in ascending order
func RailRouteTypes() []int {
	types := append([]int(nil), basicRailTypes...)
	for _, r := range extendedRailRanges {
		for t := r[0]; t <= r[1]; t++ {
			types = append(types, t)
		}
	}
	sort.Ints(types)
	return types
}

// railTypeList renders the whitelist as a SQL literal list
func railTypeList() string {
	types := RailRouteTypes()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = strconv.Itoa(t)
	}
	return strings.Join(parts, ", ")
}
