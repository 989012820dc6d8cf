package model

import "sort"

// DefaultColor is used for overlay boxes and for classes without a symbol colour.
const DefaultColor = "#0f62fe"

// symbolColors matches the DroneAid marker icon palette.
var symbolColors = map[string]string{
	"children": "#cf8ffd",
	"elderly":  "#8c07ff",
	"firstaid": "#ffed10",
	"food":     "#e22b00",
	"ok":       "#00ce08",
	"shelter":  "#00cbb3",
	"sos":      "#ff6c00",
	"water":    "#418fde",
}

// IsSymbol reports whether name belongs to the detection vocabulary.
func IsSymbol(name string) bool {
	_, ok := symbolColors[name]
	return ok
}

// SymbolColor returns the display colour for a symbol.
func SymbolColor(name string) string {
	if c, ok := symbolColors[name]; ok {
		return c
	}
	return DefaultColor
}

// SymbolIcon returns the static asset path of a symbol's map marker.
func SymbolIcon(name string) string {
	return "/assets/markers/marker-" + name + ".png"
}

// Symbols lists the vocabulary in alphabetical order.
func Symbols() []string {
	names := make([]string, 0, len(symbolColors))
	for name := range symbolColors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
