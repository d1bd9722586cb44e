package domain

import "time"

// GateLayer identifies which stage of the chain produced a denial
type GateLayer string

const (
	LayerCapital    GateLayer = "CAPITAL"
	LayerRegime     GateLayer = "REGIME"
	LayerPermission GateLayer = "PERMISSION"
	LayerRisk       GateLayer = "RISK"
	LayerConfidence GateLayer = "CONFIDENCE"
)

// Verdict is the value returned by every gate. The chain short-circuits on
// the first denial; denials carry the layer, category and a human reason.
type Verdict struct {
	Allowed  bool          `json:"allowed"`
	Layer    GateLayer     `json:"layer,omitempty"`
	Category ErrorCategory `json:"category,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// Allow is the passing verdict.
func Allow() Verdict {
	return Verdict{Allowed: true}
}

// Deny builds a denying verdict for the given layer.
func Deny(layer GateLayer, category ErrorCategory, reason string) Verdict {
	return Verdict{Layer: layer, Category: category, Reason: reason}
}

// Regime is the categorical market-state classification
type Regime string

const (
	RegimeFavorable   Regime = "favorable"
	RegimeUnfavorable Regime = "unfavorable"
	RegimeUnknown     Regime = "unknown"
)

// RegimeVerdict is a detector's classification for one symbol at one moment.
type RegimeVerdict struct {
	Regime     Regime    `json:"regime"`
	Confidence float64   `json:"confidence"` // within [0,1]
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
}

// UnknownRegime is the verdict used when no classification is available.
func UnknownRegime(symbol string, ts time.Time) RegimeVerdict {
	return RegimeVerdict{Regime: RegimeUnknown, Symbol: symbol, Timestamp: ts.UTC()}
}
