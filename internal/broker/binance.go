package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/decision"
	"github.com/Terrxnce/DEVI-sub000/internal/guard"
	"github.com/Terrxnce/DEVI-sub000/internal/logger"
	"github.com/Terrxnce/DEVI-sub000/internal/pkg/circuit"
)

// Binance error codes that mean the venue refused the stop levels rather than
// the order itself. These are the retryable class.
var invalidStopCodes = map[int64]bool{
	-2021: true, // order would immediately trigger
	-4024: true, // price less than stop price multiplier cap
	-4025: true, // price greater than stop price multiplier floor
	-1111: true, // precision over the maximum for this asset
}

// Binance routes orders to USDT-M futures: a market entry plus close-position
// stop and take-profit triggers. It also serves as the live equity and
// position source.
type Binance struct {
	client  *futures.Client
	breaker *circuit.Breaker
}

func NewBinance(apiKey, apiSecret, baseURL string) *Binance {
	c := futures.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	return &Binance{
		client:  c,
		breaker: circuit.New("binance-futures", 5, 30*time.Second),
	}
}

// call routes one venue request through the breaker. A structured API error
// counts as a healthy transport: the venue answered, it just said no.
func (b *Binance) call(fn func() error) error {
	var venueErr error
	err := b.breaker.Do(func() error {
		err := fn()
		var api *common.APIError
		if errors.As(err, &api) {
			venueErr = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return venueErr
}

func (b *Binance) PlaceOrder(ctx context.Context, o guard.Order) (string, error) {
	entrySide, exitSide := futures.SideTypeBuy, futures.SideTypeSell
	if o.Side == decision.Sell {
		entrySide, exitSide = futures.SideTypeSell, futures.SideTypeBuy
	}

	var entry *futures.CreateOrderResponse
	err := b.call(func() error {
		var err error
		entry, err = b.client.NewCreateOrderService().
			Symbol(o.Symbol).
			Side(entrySide).
			Type(futures.OrderTypeMarket).
			Quantity(o.Volume.String()).
			Do(ctx)
		return err
	})
	if err != nil {
		return "", classify(err)
	}
	orderID := strconv.FormatInt(entry.OrderID, 10)

	if err := b.call(func() error {
		_, err := b.client.NewCreateOrderService().
			Symbol(o.Symbol).
			Side(exitSide).
			Type(futures.OrderTypeStopMarket).
			StopPrice(o.Stop.String()).
			ClosePosition(true).
			Do(ctx)
		return err
	}); err != nil {
		b.flatten(ctx, o.Symbol, exitSide, o.Volume)
		return "", classify(err)
	}

	if err := b.call(func() error {
		_, err := b.client.NewCreateOrderService().
			Symbol(o.Symbol).
			Side(exitSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(o.TakeProfit.String()).
			ClosePosition(true).
			Do(ctx)
		return err
	}); err != nil {
		b.flatten(ctx, o.Symbol, exitSide, o.Volume)
		return "", classify(err)
	}
	return orderID, nil
}

// flatten unwinds a partially placed bracket so a rejected stop never leaves
// a naked position behind.
func (b *Binance) flatten(ctx context.Context, symbol string, exitSide futures.SideType, volume decimal.Decimal) {
	if _, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(exitSide).
		Type(futures.OrderTypeMarket).
		Quantity(volume.String()).
		ReduceOnly(true).
		Do(ctx); err != nil {
		logger.Errorf("broker: flattening %s after partial bracket failed: %v", symbol, err)
	}
	if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		logger.Errorf("broker: canceling open orders for %s failed: %v", symbol, err)
	}
}

func (b *Binance) CloseAllPositions(ctx context.Context, reason string) error {
	positions, err := b.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("broker: listing positions: %w", err)
	}
	for _, pos := range positions {
		side := futures.SideTypeSell
		if pos.Volume.IsNegative() {
			side = futures.SideTypeBuy
		}
		if _, err := b.client.NewCreateOrderService().
			Symbol(pos.Symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(pos.Volume.Abs().String()).
			ReduceOnly(true).
			Do(ctx); err != nil {
			return fmt.Errorf("broker: closing %s (%s): %w", pos.Symbol, reason, err)
		}
		if err := b.client.NewCancelAllOpenOrdersService().Symbol(pos.Symbol).Do(ctx); err != nil {
			logger.Errorf("broker: canceling open orders for %s failed: %v", pos.Symbol, err)
		}
		logger.Warnf("broker: closed %s position %s (%s)", pos.Symbol, pos.Volume, reason)
	}
	return nil
}

// Equity reports the total margin balance of the futures account.
func (b *Binance) Equity(ctx context.Context) (decimal.Decimal, error) {
	var account *futures.Account
	err := b.call(func() error {
		var err error
		account, err = b.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("broker: fetching account: %w", err)
	}
	equity, err := decimal.NewFromString(account.TotalMarginBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("broker: parsing margin balance %q: %w", account.TotalMarginBalance, err)
	}
	return equity, nil
}

// OpenPositions reports the non-flat futures positions. Stops are not
// recoverable from the position endpoint; the guard falls back to the
// candidate's contract economics for unknown stops.
func (b *Binance) OpenPositions(ctx context.Context) ([]guard.OpenPosition, error) {
	var risks []*futures.PositionRisk
	err := b.call(func() error {
		var err error
		risks, err = b.client.NewGetPositionRiskService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("broker: fetching position risk: %w", err)
	}
	var out []guard.OpenPosition
	for _, r := range risks {
		amt, err := decimal.NewFromString(r.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}
		entry, err := decimal.NewFromString(r.EntryPrice)
		if err != nil {
			continue
		}
		out = append(out, guard.OpenPosition{Symbol: r.Symbol, Volume: amt, Entry: entry})
	}
	return out, nil
}

// classify maps venue error codes onto the guard's retryable sentinel.
func classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && invalidStopCodes[apiErr.Code] {
		return fmt.Errorf("%w: %s (code %d)", guard.ErrInvalidStops, apiErr.Message, apiErr.Code)
	}
	return err
}
