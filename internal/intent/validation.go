package intent

import "strconv"

// validateOrder collects every violation in one pass so the operator fixes
// the whole form at once.
func validateOrder(input CreateInput) error {
	fields := make(map[string]string)
	if input.SiteID <= 0 {
		fields["site_id"] = "a delivery site must be selected"
	}
	if input.RequestedBy == "" {
		fields["requested_by"] = "is required"
	}
	if len(input.Materials) == 0 {
		fields["materials"] = "at least one material is required"
	}
	for i, m := range input.Materials {
		key := "materials." + strconv.Itoa(i)
		switch {
		case m.ItemName == "":
			fields[key+".item_name"] = "is required"
		case m.Quantity <= 0:
			fields[key+".quantity"] = "must be greater than zero"
		case m.UOM == "":
			fields[key+".uom"] = "is required"
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
