package geo

import (
	"math"

	"github.com/example/order-dispatch/internal/models"
)

// Flat base plus per-km rate, keyed by vehicle class for rides and parcel
// size class for deliveries. Unknown classes fall back to the mid tier.
type rate struct {
	base  float64
	perKm float64
}

var rideRates = map[string]rate{
	"bike": {base: 50, perKm: 40},
	"tuk":  {base: 60, perKm: 50},
	"car":  {base: 100, perKm: 80},
	"van":  {base: 150, perKm: 100},
}

var parcelRates = map[string]rate{
	"small":  {base: 100, perKm: 30},
	"medium": {base: 150, perKm: 40},
	"large":  {base: 200, perKm: 60},
}

const (
	defaultRideClass   = "car"
	defaultParcelClass = "medium"
	foodDeliveryBase   = 100
	foodDeliveryPerKm  = 30
)

// EstimateFare computes the quoted amount for a trip of km kilometers.
// Pure arithmetic, no side effects.
func EstimateFare(kind models.ServiceKind, class string, km float64) float64 {
	var r rate
	switch kind {
	case models.ServiceFood:
		r = rate{base: foodDeliveryBase, perKm: foodDeliveryPerKm}
	case models.ServiceParcel:
		var ok bool
		if r, ok = parcelRates[class]; !ok {
			r = parcelRates[defaultParcelClass]
		}
	default:
		var ok bool
		if r, ok = rideRates[class]; !ok {
			r = rideRates[defaultRideClass]
		}
	}
	if km < 0 {
		km = 0
	}
	return math.Round((r.base+r.perKm*km)*100) / 100
}

// EstimateDurationMin is a naive distance/speed travel-time estimate in
// whole minutes. Routing engines are out of scope for dispatch.
func EstimateDurationMin(km, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = 30 // typical city average
	}
	min := km / speedKmh * 60
	return int(math.Ceil(min))
}
