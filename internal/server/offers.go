package server

import (
	"encoding/json"
	"net/http"

	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/repair"
)

// handleOfferPost accepts an offer_post-style request, repairs its shape
// and numeric arguments, and starts a swap. Top-level scalar fields are
// folded into offers[0]; amounts produced by humans or assistants are
// coerced into atomic integer strings before validation.
func handleOfferPost(w http.ResponseWriter, r *http.Request, starter SwapStarter, stripSuffix bool) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req = repair.FlattenOffer(req)

	offers, _ := req["offers"].([]any)
	if len(offers) != 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "exactly one offer required"})
		return
	}
	offer, ok := offers[0].(map[string]any)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed offer"})
		return
	}

	opts := repair.Options{StripUnitSuffix: stripSuffix}
	usdt := repair.Coerce(asString(offer["usdt_amount"]), repair.USDTDecimals, opts)
	if !domain.AtomicValid(usdt) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "usdt_amount is not an atomic integer"})
		return
	}
	sats, err := satsOf(offer["btc_sats"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tradeID, err := starter.StartSwap(r.Context(), sats, usdt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"trade_id": tradeID})
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		// encoding/json decodes bare numbers as float64; repair's exact
		// arithmetic takes over from the string form.
		return json.Number(jsonNumber(s)).String()
	default:
		return ""
	}
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func satsOf(v any) (uint64, error) {
	s := repair.Coerce(asString(v), 0, repair.Options{})
	n, err := domain.AtomicToUint64(s)
	if err != nil {
		return 0, err
	}
	return n, nil
}
