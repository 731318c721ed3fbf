package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

var categories = map[string]bool{
	"massage":    true,
	"healing":    true,
	"surf":       true,
	"pilates":    true,
	"biohacking": true,
}

type Service struct {
	ID              string  `toml:"id"`
	Name            string  `toml:"name"`
	DurationMinutes int     `toml:"duration_minutes"`
	BasePrice       float64 `toml:"base_price"`
	Category        string  `toml:"category"`
	Description     string  `toml:"description"`
	Inactive        bool    `toml:"inactive"`
}

type Staff struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Role     string `toml:"role"`
	Inactive bool   `toml:"inactive"`
}

type Room struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Capacity int    `toml:"capacity"`
	Type     string `toml:"type"`
	Inactive bool   `toml:"inactive"`
}

// Catalog is the desired state of the resource tables.
type Catalog struct {
	Services []Service `toml:"service"`
	Staff    []Staff   `toml:"staff"`
	Rooms    []Room    `toml:"room"`
}

func LoadFile(path string) (Catalog, error) {
	var c Catalog
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return Catalog{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Catalog{}, fmt.Errorf("decode %s: unknown keys %v", path, undecoded)
	}
	return c, c.Validate()
}

func Parse(raw string) (Catalog, error) {
	var c Catalog
	md, err := toml.Decode(raw, &c)
	if err != nil {
		return Catalog{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Catalog{}, fmt.Errorf("unknown keys %v", undecoded)
	}
	return c, c.Validate()
}

// Validate reports every problem in the file at once.
func (c Catalog) Validate() error {
	var errs []error
	seen := map[string]bool{}
	checkID := func(kind, id string) {
		switch {
		case strings.TrimSpace(id) == "":
			errs = append(errs, fmt.Errorf("%s: missing id", kind))
		case seen[kind+":"+id]:
			errs = append(errs, fmt.Errorf("%s %q: duplicate id", kind, id))
		}
		seen[kind+":"+id] = true
	}
	for _, s := range c.Services {
		checkID("service", s.ID)
		if s.DurationMinutes <= 0 {
			errs = append(errs, fmt.Errorf("service %q: duration_minutes must be positive", s.ID))
		}
		if s.BasePrice < 0 {
			errs = append(errs, fmt.Errorf("service %q: base_price must not be negative", s.ID))
		}
		if !categories[s.Category] {
			errs = append(errs, fmt.Errorf("service %q: unknown category %q", s.ID, s.Category))
		}
	}
	for _, s := range c.Staff {
		checkID("staff", s.ID)
	}
	for _, r := range c.Rooms {
		checkID("room", r.ID)
		if r.Capacity <= 0 {
			errs = append(errs, fmt.Errorf("room %q: capacity must be positive", r.ID))
		}
	}
	return errors.Join(errs...)
}
