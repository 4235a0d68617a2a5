package repair

// OfferScalarFields lists the top-level scalar fields an offer_post request
// may carry that belong inside offers[0].
var OfferScalarFields = []string{
	"pair", "direction", "btc_sats", "usdt_amount", "valid_until_unix",
}

// FlattenOffer moves recognized top-level scalar fields of an offer_post
// style request into a single-element offers array. Values already present
// in an existing first offer are never overwritten; the top-level copy is
// simply dropped so nothing is silently overridden.
func FlattenOffer(req map[string]any) map[string]any {
	out := make(map[string]any, len(req))
	for k, v := range req {
		out[k] = v
	}

	var offer map[string]any
	if raw, ok := out["offers"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return out
		}
		if len(list) > 0 {
			first, ok := list[0].(map[string]any)
			if !ok {
				return out
			}
			offer = first
		}
	}

	moved := false
	for _, field := range OfferScalarFields {
		v, ok := out[field]
		if !ok {
			continue
		}
		if offer == nil {
			offer = make(map[string]any)
		}
		if _, taken := offer[field]; !taken {
			offer[field] = v
		}
		delete(out, field)
		moved = true
	}

	if offer != nil && (moved || out["offers"] == nil) {
		existing, _ := out["offers"].([]any)
		if len(existing) > 0 {
			existing[0] = offer
			out["offers"] = existing
		} else {
			out["offers"] = []any{offer}
		}
	}
	return out
}
