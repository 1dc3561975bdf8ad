package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

type fakeOrders struct {
	submitted []types.OrderRequest
	cancelled []string
}

func (f *fakeOrders) Submit(ctx context.Context, request types.OrderRequest) (types.Order, error) {
	f.submitted = append(f.submitted, request)

	return types.Order{ID: "order-1", Symbol: request.Symbol}, nil
}

func (f *fakeOrders) Cancel(ctx context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)

	return nil
}

func (f *fakeOrders) OpenOrders() []types.Order { return nil }

type fakeBook struct {
	positions map[string]types.Position
}

func (f *fakeBook) Position(symbol string) types.Position {
	return f.positions[symbol]
}

func (f *fakeBook) Positions() []types.Position {
	out := make([]types.Position, 0, len(f.positions))
	for _, position := range f.positions {
		out = append(out, position)
	}

	return out
}

type fakeAccount struct {
	cash float64
}

func (f *fakeAccount) Cash() float64 { return f.cash }

type SMACrossoverTestSuite struct {
	suite.Suite
	strategy *SMACrossover
	orders   *fakeOrders
	book     *fakeBook
	account  *fakeAccount
	ctx      *Context
}

func TestSMACrossoverTestSuite(t *testing.T) {
	suite.Run(t, new(SMACrossoverTestSuite))
}

func (suite *SMACrossoverTestSuite) SetupTest() {
	suite.strategy = NewSMACrossover()
	suite.Require().NoError(suite.strategy.Initialize("fast_period: 2\nslow_period: 3\ncash_fraction: 0.95"))

	suite.orders = &fakeOrders{}
	suite.book = &fakeBook{positions: make(map[string]types.Position)}
	suite.account = &fakeAccount{cash: 10000}
	suite.ctx = &Context{
		Ctx:     context.Background(),
		Orders:  suite.orders,
		Book:    suite.book,
		Account: suite.account,
		Log:     logger.NewNopLogger(),
	}
}

func (suite *SMACrossoverTestSuite) feed(closes ...float64) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	for i, close := range closes {
		bar := types.Bar{
			Symbol: "AAPL",
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   close,
			High:   close,
			Low:    close,
			Close:  close,
			Volume: 1000,
		}

		suite.Require().NoError(suite.strategy.OnBar(suite.ctx, bar))
	}
}

func (suite *SMACrossoverTestSuite) TestNoSignalDuringWarmup() {
	suite.feed(100, 90)

	suite.Empty(suite.orders.submitted)
}

func (suite *SMACrossoverTestSuite) TestGoldenCrossBuysWithCashFraction() {
	suite.feed(100, 90, 80, 100, 120)

	suite.Require().Len(suite.orders.submitted, 1)

	request := suite.orders.submitted[0]
	suite.Equal("AAPL", request.Symbol)
	suite.Equal(types.SideBuy, request.Side)
	suite.Equal(types.OrderTypeMarket, request.Type)
	suite.InDelta(10000*0.95/120, request.Quantity, 1e-9)
	suite.Equal("sma_crossover_2_3", request.StrategyName)
}

func (suite *SMACrossoverTestSuite) TestGoldenCrossSkippedWhileHoldingPosition() {
	suite.book.positions["AAPL"] = types.Position{Symbol: "AAPL", Quantity: 50}

	suite.feed(100, 90, 80, 100, 120)

	suite.Empty(suite.orders.submitted)
}

func (suite *SMACrossoverTestSuite) TestDeathCrossClosesPosition() {
	suite.book.positions["AAPL"] = types.Position{Symbol: "AAPL", Quantity: 79}

	suite.feed(80, 100, 120, 100, 80)

	suite.Require().Len(suite.orders.submitted, 1)

	request := suite.orders.submitted[0]
	suite.Equal(types.SideSell, request.Side)
	suite.Equal(79.0, request.Quantity)
}

func (suite *SMACrossoverTestSuite) TestDeathCrossIgnoredWhenFlat() {
	suite.feed(80, 100, 120, 100, 80)

	suite.Empty(suite.orders.submitted)
}

func (suite *SMACrossoverTestSuite) TestSymbolsTrackedIndependently() {
	suite.feed(100, 90, 80, 100, 120)

	bar := types.Bar{
		Symbol: "GOOG",
		Time:   time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		Open:   50, High: 50, Low: 50, Close: 50, Volume: 100,
	}
	suite.Require().NoError(suite.strategy.OnBar(suite.ctx, bar))

	// Only the AAPL cross fired; GOOG is still warming up.
	suite.Len(suite.orders.submitted, 1)
}

func TestSMACrossoverInitializeDefaults(t *testing.T) {
	strategy := NewSMACrossover()

	require.NoError(t, strategy.Initialize(""))
	assert.Equal(t, "sma_crossover_10_30", strategy.Name())
}

func TestSMACrossoverInitializeRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{name: "malformed yaml", config: "fast_period: ["},
		{name: "fast above slow", config: "fast_period: 30\nslow_period: 10"},
		{name: "zero fast period", config: "fast_period: 0\nslow_period: 10"},
		{name: "cash fraction above one", config: "cash_fraction: 1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSMACrossover().Initialize(tt.config)

			assert.Equal(t, errors.ErrCodeInvalidConfiguration, errors.GetCode(err))
		})
	}
}
