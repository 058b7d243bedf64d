package validator

import (
	"fmt"
	"math"

	"strategy-engine-go/config"
	"strategy-engine-go/gateway"
)

// Rules 下单前校验规则。未配置的项跳过对应检查。
type Rules struct {
	Symbols           map[string]config.SymbolConfig
	MinOrderUSD       float64
	MaxOrderUSD       float64
	MaxPriceDeviation float64 // 相对市场价的最大偏离比例，0 关闭检查
}

// PriceSource 提供市场价参考，价格不可用时返回 false（检查跳过而非失败）。
type PriceSource func(symbol string) (float64, bool)

// PreTrade 在订单到达交易所之前拦截必然被拒的请求：
// 精度不对齐、数量越界、名义价值越界、限价严重偏离市场。
type PreTrade struct {
	rules Rules
	price PriceSource
}

// New 创建校验器。price 可为 nil。
func New(rules Rules, price PriceSource) *PreTrade {
	if price == nil {
		price = func(string) (float64, bool) { return 0, false }
	}
	return &PreTrade{rules: rules, price: price}
}

// Check 校验一笔订单请求。price 为 0 表示市价单，跳过价格类检查。
func (v *PreTrade) Check(symbol string, side gateway.Side, quantity, price float64) error {
	if side != gateway.SideBuy && side != gateway.SideSell {
		return fmt.Errorf("invalid side %q", side)
	}
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %.8f", quantity)
	}
	if price < 0 {
		return fmt.Errorf("price must be >= 0, got %.8f", price)
	}

	sc, known := v.rules.Symbols[symbol]
	if !known {
		return fmt.Errorf("symbol %s not configured", symbol)
	}

	if sc.StepSize > 0 && !isMultiple(quantity, sc.StepSize) {
		return fmt.Errorf("qty %.8f not aligned to stepSize %.8f", quantity, sc.StepSize)
	}
	if sc.MinQty > 0 && quantity < sc.MinQty {
		return fmt.Errorf("qty %.8f < minQty %.8f", quantity, sc.MinQty)
	}
	if sc.MaxQty > 0 && quantity > sc.MaxQty {
		return fmt.Errorf("qty %.8f > maxQty %.8f", quantity, sc.MaxQty)
	}

	if price == 0 {
		return nil
	}

	if sc.TickSize > 0 && !isMultiple(price, sc.TickSize) {
		return fmt.Errorf("price %.8f not aligned to tickSize %.8f", price, sc.TickSize)
	}

	notional := price * quantity
	if sc.MinNotional > 0 && notional < sc.MinNotional {
		return fmt.Errorf("notional %.2f < minNotional %.2f", notional, sc.MinNotional)
	}
	if sc.MaxNotional > 0 && notional > sc.MaxNotional {
		return fmt.Errorf("notional %.2f > maxNotional %.2f", notional, sc.MaxNotional)
	}
	if v.rules.MinOrderUSD > 0 && notional < v.rules.MinOrderUSD {
		return fmt.Errorf("order value %.2f below minimum %.2f", notional, v.rules.MinOrderUSD)
	}
	if v.rules.MaxOrderUSD > 0 && notional > v.rules.MaxOrderUSD {
		return fmt.Errorf("order value %.2f exceeds safety limit %.2f", notional, v.rules.MaxOrderUSD)
	}

	if v.rules.MaxPriceDeviation > 0 {
		if market, ok := v.price(symbol); ok && market > 0 {
			dev := math.Abs(price-market) / market
			if dev > v.rules.MaxPriceDeviation {
				return fmt.Errorf("price %.2f deviates %.1f%% from market %.2f (limit %.1f%%)",
					price, dev*100, market, v.rules.MaxPriceDeviation*100)
			}
		}
		// 市场价不可用时跳过偏离检查，不把价格源故障放大为下单失败。
	}

	return nil
}

func isMultiple(value, step float64) bool {
	if step <= 0 {
		return true
	}
	ratio := value / step
	return math.Abs(ratio-math.Round(ratio)) <= 1e-8
}
