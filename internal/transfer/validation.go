package transfer

import "strconv"

// validateTransfer collects every violation in one pass. A transfer between
// the same site is meaningless and always rejected.
func validateTransfer(input CreateInput) error {
	fields := make(map[string]string)
	if input.FromSiteID <= 0 {
		fields["from_site_id"] = "a source site must be selected"
	}
	if input.ToSiteID <= 0 {
		fields["to_site_id"] = "a destination site must be selected"
	}
	if input.FromSiteID > 0 && input.FromSiteID == input.ToSiteID {
		fields["to_site_id"] = "destination must differ from source"
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
