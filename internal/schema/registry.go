package schema

import (
	"fmt"
	"math"
	"strconv"
)

// Venue describes a trading venue.
type Venue struct {
	ID   uint16
	Name string
}

// Symbol describes a tradable instrument and its venue filters.
type Symbol struct {
	Name     string
	Venue    string
	TickSize float64
	StepSize float64
	MinQty   float64
}

// Registry stores venue and symbol mappings.
type Registry struct {
	venues      []Venue
	symbols     []Symbol
	venueByName map[string]uint16
	symbolIndex map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		venueByName: make(map[string]uint16),
		symbolIndex: make(map[string]int),
	}
}

// AddVenue registers a new venue and returns its ID.
func (r *Registry) AddVenue(name string) (uint16, error) {
	if name == "" {
		return 0, fmt.Errorf("venue name is empty")
	}
	if id, ok := r.venueByName[name]; ok {
		return id, fmt.Errorf("venue already exists: %s", name)
	}
	id := uint16(len(r.venues) + 1)
	r.venues = append(r.venues, Venue{ID: id, Name: name})
	r.venueByName[name] = id
	return id, nil
}

// AddSymbol registers a symbol on a known venue.
func (r *Registry) AddSymbol(sym Symbol) error {
	if sym.Name == "" {
		return fmt.Errorf("symbol name is empty")
	}
	if _, ok := r.venueByName[sym.Venue]; !ok {
		return fmt.Errorf("venue not found: %s", sym.Venue)
	}
	if sym.TickSize < 0 || sym.StepSize < 0 || sym.MinQty < 0 {
		return fmt.Errorf("symbol filters must be >= 0: %s", sym.Name)
	}
	key := symbolKey(sym.Venue, sym.Name)
	if _, ok := r.symbolIndex[key]; ok {
		return fmt.Errorf("symbol already exists: %s", key)
	}
	r.symbolIndex[key] = len(r.symbols)
	r.symbols = append(r.symbols, sym)
	return nil
}

// Symbol returns the symbol registered on venue.
func (r *Registry) Symbol(venue, name string) (Symbol, bool) {
	idx, ok := r.symbolIndex[symbolKey(venue, name)]
	if !ok {
		return Symbol{}, false
	}
	return r.symbols[idx], true
}

// Symbols returns the symbols of one venue in registration order.
func (r *Registry) Symbols(venue string) []Symbol {
	out := make([]Symbol, 0, len(r.symbols))
	for _, sym := range r.symbols {
		if sym.Venue == venue {
			out = append(out, sym)
		}
	}
	return out
}

// Venues returns all registered venues.
func (r *Registry) Venues() []Venue {
	out := make([]Venue, len(r.venues))
	copy(out, r.venues)
	return out
}

// VenueIDByName returns the venue ID for a name.
func (r *Registry) VenueIDByName(name string) (uint16, bool) {
	id, ok := r.venueByName[name]
	return id, ok
}

// RoundPrice floors price to the symbol tick size. Unknown symbols pass through.
func (r *Registry) RoundPrice(venue, name string, price float64) float64 {
	sym, ok := r.Symbol(venue, name)
	if !ok || sym.TickSize <= 0 {
		return price
	}
	return roundStep(price, sym.TickSize)
}

// RoundQty floors qty to the symbol step size, returning 0 below the minimum quantity.
func (r *Registry) RoundQty(venue, name string, qty float64) float64 {
	sym, ok := r.Symbol(venue, name)
	if !ok {
		return qty
	}
	if qty < sym.MinQty {
		return 0
	}
	if sym.StepSize <= 0 {
		return qty
	}
	return roundStep(qty, sym.StepSize)
}

func roundStep(v, step float64) float64 {
	// the small bias keeps values already on the grid from flooring one step down
	floored := math.Floor(v/step+1e-9) * step
	out, err := strconv.ParseFloat(strconv.FormatFloat(floored, 'f', 8, 64), 64)
	if err != nil {
		return floored
	}
	return out
}

func symbolKey(venue, name string) string {
	return venue + ":" + name
}
