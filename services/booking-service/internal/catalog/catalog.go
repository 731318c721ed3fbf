// Package catalog reads the active services, staff and rooms bookings refer to.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
)

// Source lists active resources of one kind in display order.
type Source interface {
	ListActive(ctx context.Context, kind booking.Kind) ([]booking.Resource, error)
}

type Catalog struct {
	src Source
}

func New(src Source) *Catalog {
	return &Catalog{src: src}
}

// ListActive returns active resources. Services are ordered by category then
// name, staff and rooms by name. Source failures become ErrCatalogUnavailable.
func (c *Catalog) ListActive(ctx context.Context, kind booking.Kind) ([]booking.Resource, error) {
	out, err := c.src.ListActive(ctx, kind)
	if err != nil {
		if errors.Is(err, booking.ErrCatalogUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("list %s: %w: %v", kind, booking.ErrCatalogUnavailable, err)
	}
	return out, nil
}

// Lookup resolves one active resource. Unknown and inactive ids both yield
// ErrUnknownResource.
func (c *Catalog) Lookup(ctx context.Context, kind booking.Kind, id string) (booking.Resource, error) {
	if id == "" {
		return booking.Resource{}, fmt.Errorf("%w: empty %s id", booking.ErrUnknownResource, kind)
	}
	all, err := c.ListActive(ctx, kind)
	if err != nil {
		return booking.Resource{}, err
	}
	for _, r := range all {
		if r.ID == id {
			return r, nil
		}
	}
	return booking.Resource{}, fmt.Errorf("%w: %s %s", booking.ErrUnknownResource, kind, id)
}
