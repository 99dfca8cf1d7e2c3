// Package positions filters raw broker positions into the hedged structure:
// the stock leg plus the option legs that qualify under the configured DTE
// window and ATM band.
package positions

import (
	"time"

	"gamma-hedge-bot/internal/broker"
	"gamma-hedge-bot/internal/config"
)

// Portfolio is one symbol's holdings split into the hedge-relevant parts.
type Portfolio struct {
	Symbol      string
	StockShares int
	OptionLegs  []broker.Position
	// Excluded counts option legs on the symbol that fell outside the
	// DTE or ATM filters. Surfaced in logs so a silently shrinking
	// structure is visible.
	Excluded int
}

// Build selects the hedged structure from raw broker positions. spot may be
// zero when no quote exists yet; the ATM filter is skipped in that case
// rather than rejecting everything.
func Build(raw []broker.Position, cfg config.StructureConfig, spot float64, now time.Time) Portfolio {
	p := Portfolio{Symbol: cfg.Symbol}
	for _, pos := range raw {
		if pos.Symbol != cfg.Symbol || pos.Quantity == 0 {
			continue
		}
		switch pos.SecType {
		case "STK":
			p.StockShares += pos.Quantity
		case "OPT":
			if qualifies(pos, cfg, spot, now) {
				p.OptionLegs = append(p.OptionLegs, pos)
			} else {
				p.Excluded++
			}
		}
	}
	return p
}

func qualifies(pos broker.Position, cfg config.StructureConfig, spot float64, now time.Time) bool {
	if pos.Expiry.IsZero() {
		return false
	}
	dte := int(pos.Expiry.Sub(now).Hours() / 24)
	if dte < cfg.MinDTE || (cfg.MaxDTE > 0 && dte > cfg.MaxDTE) {
		return false
	}
	if cfg.ATMBandPct > 0 && spot > 0 && pos.Strike > 0 {
		band := spot * cfg.ATMBandPct
		if pos.Strike < spot-band || pos.Strike > spot+band {
			return false
		}
	}
	return true
}
