package domain

import (
	"math"
	"sort"
)

// MarketShares calcula la cuota de mercado de cada jugador con un modelo de
// demanda logit: share_i = exp(−α·b_i) / Σ_j exp(−α·b_j). Bids más bajos
// capturan más cuota; las cuotas suman 1.0.
//
// Detalles numéricos:
//   - El exponente se desplaza por el bid mínimo (invariante del logit), así
//     α·b grandes no desbordan a cero.
//   - La suma recorre los ids en orden lexicográfico para que el mismo mapa de
//     bids produzca siempre exactamente las mismas cuotas, independientemente
//     del orden de iteración del mapa.
//
// Con un único jugador devuelve share = 1.0. Con el mapa vacío devuelve un
// mapa vacío.
func MarketShares(bids map[string]float64, alpha float64) map[string]float64 {
	shares := make(map[string]float64, len(bids))
	if len(bids) == 0 {
		return shares
	}
	if len(bids) == 1 {
		for id := range bids {
			shares[id] = 1.0
		}
		return shares
	}

	ids := make([]string, 0, len(bids))
	minBid := math.Inf(1)
	for id, b := range bids {
		ids = append(ids, id)
		if b < minBid {
			minBid = b
		}
	}
	sort.Strings(ids)

	weights := make(map[string]float64, len(bids))
	var total float64
	for _, id := range ids {
		w := math.Exp(-alpha * (bids[id] - minBid))
		weights[id] = w
		total += w
	}

	for _, id := range ids {
		shares[id] = weights[id] / total
	}
	return shares
}

// Profit calcula el beneficio de un jugador en una ronda:
// (bid − coste unitario) × cuota × tamaño de mercado.
// Sin suelo en cero: las pérdidas son representables.
func Profit(bid, share, cost, marketSize float64) float64 {
	return (bid - cost) * share * marketSize
}
