package engine

import "silofy/internal/model"

// Select returns the bags matching filter in their input order. Crop and
// site compare case-sensitively against Bag.Crop and Bag.Farm; AllValues
// disables a selector. The campaign selector has no effect on the result.
func Select(bags []model.Bag, filter model.Filter) []model.Bag {
	f := filter.Normalized()
	out := make([]model.Bag, 0, len(bags))
	for _, b := range bags {
		if f.Crop != model.AllValues && b.Crop != f.Crop {
			continue
		}
		if f.Site != model.AllValues && b.Farm != f.Site {
			continue
		}
		out = append(out, b)
	}
	return out
}
