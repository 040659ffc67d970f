package strategy

import (
	talib "github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"github.com/driftlab/drift-trading/internal/logger"
	"github.com/driftlab/drift-trading/internal/types"
)

// MeanReversionConfig tunes the quiet-market mean reversion policy.
type MeanReversionConfig struct {
	ATRPeriod      int     `yaml:"atr_period" json:"atr_period"`
	ATRThreshold   float64 `yaml:"atr_threshold" json:"atr_threshold"`
	ATRMAPeriod    int     `yaml:"atr_ma_period" json:"atr_ma_period"`
	BBPeriod       int     `yaml:"bb_period" json:"bb_period"`
	BBStdDev       float64 `yaml:"bb_std_dev" json:"bb_std_dev"`
	BBWidthLimit   float64 `yaml:"bb_width_limit" json:"bb_width_limit"`
	BBWidthMA      int     `yaml:"bb_width_ma" json:"bb_width_ma"`
	ADXPeriod      int     `yaml:"adx_period" json:"adx_period"`
	ADXThreshold   float64 `yaml:"adx_threshold" json:"adx_threshold"`
	RSIPeriod      int     `yaml:"rsi_period" json:"rsi_period"`
	RSIQuietLower  float64 `yaml:"rsi_quiet_lower" json:"rsi_quiet_lower"`
	RSIQuietUpper  float64 `yaml:"rsi_quiet_upper" json:"rsi_quiet_upper"`
	RSIOversold    float64 `yaml:"rsi_oversold" json:"rsi_oversold"`
	VolumeMAPeriod int     `yaml:"volume_ma_period" json:"volume_ma_period"`
	VolumeQuietMax float64 `yaml:"volume_quiet_max" json:"volume_quiet_max"`
	VolumeEntryMin float64 `yaml:"volume_entry_min" json:"volume_entry_min"`
	// QuietConditionsMet is how many of the five quiet checks must pass.
	QuietConditionsMet int `yaml:"quiet_conditions_met" json:"quiet_conditions_met"`
	// EntryConditionsMet is how many of the four entry checks must pass.
	EntryConditionsMet int `yaml:"entry_conditions_met" json:"entry_conditions_met"`
	// SupportLookback is the window for support level detection.
	SupportLookback int `yaml:"support_lookback" json:"support_lookback"`
	// StopLossATRMultiplier sets the stop distance in ATR units.
	StopLossATRMultiplier float64 `yaml:"stop_loss_atr_multiplier" json:"stop_loss_atr_multiplier"`
	// RiskPerTrade is the portfolio fraction risked between entry and stop.
	RiskPerTrade float64 `yaml:"risk_per_trade" json:"risk_per_trade"`
	// MaxPositionFraction caps the cash fraction committed to one entry.
	MaxPositionFraction float64 `yaml:"max_position_fraction" json:"max_position_fraction"`
}

// DefaultMeanReversionConfig returns the standard tuning.
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		ATRPeriod:             14,
		ATRThreshold:          1.2,
		ATRMAPeriod:           20,
		BBPeriod:              20,
		BBStdDev:              2.0,
		BBWidthLimit:          1.0,
		BBWidthMA:             20,
		ADXPeriod:             14,
		ADXThreshold:          30,
		RSIPeriod:             14,
		RSIQuietLower:         35,
		RSIQuietUpper:         65,
		RSIOversold:           35,
		VolumeMAPeriod:        50,
		VolumeQuietMax:        1.5,
		VolumeEntryMin:        1.05,
		QuietConditionsMet:    3,
		EntryConditionsMet:    2,
		SupportLookback:       20,
		StopLossATRMultiplier: 2.0,
		RiskPerTrade:          0.01,
		MaxPositionFraction:   0.1,
	}
}

// MeanReversionPolicy buys dips in quiet markets and exits at a reversion
// target or a volatility-scaled stop. Long only. The policy holds no state:
// entry intents carry their exit levels, which ride on the position until
// it closes.
type MeanReversionPolicy struct {
	config MeanReversionConfig
	logger *logger.Logger
}

// NewMeanReversionPolicy creates the policy with the given tuning.
func NewMeanReversionPolicy(config MeanReversionConfig, logger *logger.Logger) *MeanReversionPolicy {
	return &MeanReversionPolicy{
		config: config,
		logger: logger,
	}
}

// Name implements Policy.
func (p *MeanReversionPolicy) Name() string {
	return "mean_reversion"
}

// minHistory is the shortest history the indicators need to produce a
// stable reading.
func (p *MeanReversionPolicy) minHistory() int {
	need := p.config.BBPeriod + p.config.BBWidthMA
	if v := p.config.ATRPeriod + p.config.ATRMAPeriod; v > need {
		need = v
	}

	if v := p.config.VolumeMAPeriod + 1; v > need {
		need = v
	}

	if v := 2*p.config.ADXPeriod + 1; v > need {
		need = v
	}

	return need
}

// Decide implements Policy.
func (p *MeanReversionPolicy) Decide(history []types.PriceBar, position types.Position) types.TradeIntent {
	if len(history) < p.minHistory() {
		return types.Hold()
	}

	bar := history[len(history)-1]

	if !position.IsFlat() {
		return p.decideExit(bar.Close, position)
	}

	return p.decideEntry(history, bar)
}

func (p *MeanReversionPolicy) decideExit(price float64, position types.Position) types.TradeIntent {
	if position.StopPrice > 0 && price <= position.StopPrice {
		return types.TradeIntent{Side: types.SideSell, SizeFraction: 1.0, Reason: "stop_loss"}
	}

	if position.TargetPrice > 0 && price >= position.TargetPrice {
		return types.TradeIntent{Side: types.SideSell, SizeFraction: 1.0, Reason: "target"}
	}

	return types.Hold()
}

func (p *MeanReversionPolicy) decideEntry(history []types.PriceBar, bar types.PriceBar) types.TradeIntent {
	closes := make([]float64, len(history))
	highs := make([]float64, len(history))
	lows := make([]float64, len(history))
	volumes := make([]float64, len(history))

	for i, b := range history {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}

	last := len(history) - 1

	atr := talib.Atr(highs, lows, closes, p.config.ATRPeriod)
	atrMA := talib.Sma(atr, p.config.ATRMAPeriod)
	bbUpper, bbMiddle, bbLower := talib.BBands(closes, p.config.BBPeriod, p.config.BBStdDev, p.config.BBStdDev, talib.SMA)
	adx := talib.Adx(highs, lows, closes, p.config.ADXPeriod)
	rsi := talib.Rsi(closes, p.config.RSIPeriod)
	volumeMA := talib.Sma(volumes, p.config.VolumeMAPeriod)

	bbWidth := make([]float64, len(history))
	for i := range bbWidth {
		if bbMiddle[i] > 0 {
			bbWidth[i] = (bbUpper[i] - bbLower[i]) / bbMiddle[i] * 100
		}
	}

	bbWidthMA := talib.Sma(bbWidth, p.config.BBWidthMA)

	if !p.isQuietMarket(atr[last], atrMA[last], bbWidth[last], bbWidthMA[last], adx[last], rsi[last], volumes[last], volumeMA[last]) {
		return types.Hold()
	}

	support := lows[last]

	lookbackStart := len(history) - p.config.SupportLookback
	for i := lookbackStart; i <= last; i++ {
		if lows[i] < support {
			support = lows[i]
		}
	}

	volumeRatio := 0.0
	if volumeMA[last] > 0 {
		volumeRatio = volumes[last] / volumeMA[last]
	}

	conditions := 0

	if bar.Close <= bbLower[last]*1.05 {
		conditions++
	}

	if rsi[last] < p.config.RSIOversold*1.2 {
		conditions++
	}

	if bar.Close <= support*1.1 {
		conditions++
	}

	if volumeRatio > p.config.VolumeEntryMin {
		conditions++
	}

	if conditions < p.config.EntryConditionsMet {
		return types.Hold()
	}

	stopFraction := atr[last] * p.config.StopLossATRMultiplier / bar.Close
	if stopFraction <= 0 {
		return types.Hold()
	}

	fraction := p.config.RiskPerTrade / stopFraction
	if fraction > p.config.MaxPositionFraction {
		fraction = p.config.MaxPositionFraction
	}

	target := bbMiddle[last]
	stop := bar.Close * (1 - stopFraction)

	p.logger.Debug("Mean reversion entry",
		zap.Float64("price", bar.Close),
		zap.Float64("target", target),
		zap.Float64("stop", stop),
		zap.Float64("fraction", fraction),
	)

	return types.TradeIntent{
		Side:         types.SideBuy,
		SizeFraction: fraction,
		Reason:       "mean_reversion_entry",
		TargetPrice:  target,
		StopPrice:    stop,
	}
}

// isQuietMarket applies the five quiet checks and requires the configured
// number of them to pass.
func (p *MeanReversionPolicy) isQuietMarket(atr, atrMA, bbWidth, bbWidthMA, adx, rsi, volume, volumeMA float64) bool {
	conditions := 0

	if atrMA > 0 && atr < p.config.ATRThreshold*atrMA {
		conditions++
	}

	if bbWidthMA > 0 && bbWidth < p.config.BBWidthLimit*bbWidthMA {
		conditions++
	}

	if adx < p.config.ADXThreshold {
		conditions++
	}

	if rsi >= p.config.RSIQuietLower && rsi <= p.config.RSIQuietUpper {
		conditions++
	}

	if volumeMA > 0 && volume < p.config.VolumeQuietMax*volumeMA {
		conditions++
	}

	return conditions >= p.config.QuietConditionsMet
}

var _ Policy = (*MeanReversionPolicy)(nil)
