package market

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// MinCandles 是指标计算要求的最少K线数量，低于此值的序列直接弃用。
const MinCandles = 30

// Series 将K线拆成指标库需要的列向量。
type Series struct {
	Closes  []float64
	Highs   []float64
	Lows    []float64
	Volumes []float64
}

// ToSeries 拆列；数量不足时返回 (Series{}, false)。
func ToSeries(candles []Candle) (Series, bool) {
	if len(candles) < MinCandles {
		return Series{}, false
	}
	s := Series{
		Closes:  make([]float64, len(candles)),
		Highs:   make([]float64, len(candles)),
		Lows:    make([]float64, len(candles)),
		Volumes: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.Closes[i] = c.Close
		s.Highs[i] = c.High
		s.Lows[i] = c.Low
		s.Volumes[i] = c.Volume
	}
	return s, true
}

// LastClose 返回最新收盘价，空序列返回 0。
func (s Series) LastClose() float64 {
	if len(s.Closes) == 0 {
		return 0
	}
	return s.Closes[len(s.Closes)-1]
}
