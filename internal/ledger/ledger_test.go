package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

type LedgerTestSuite struct {
	suite.Suite
	ledger *Ledger
}

func (suite *LedgerTestSuite) SetupTest() {
	suite.ledger = NewLedger(logger.NewNopLogger())
}

func TestLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (suite *LedgerTestSuite) fill(execID string, side types.Side, qty, price float64) types.Fill {
	return types.Fill{
		ExecID:   execID,
		OrderID:  "order-1",
		Symbol:   "AAPL",
		Side:     side,
		Quantity: qty,
		Price:    price,
		Time:     time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
	}
}

func (suite *LedgerTestSuite) TestOpeningFillSetsCostBasis() {
	trade, err := suite.ledger.Apply(suite.fill("e1", types.SideBuy, 100, 100.50))
	suite.Require().NoError(err)
	suite.Assert().True(trade.IsNone())

	position := suite.ledger.Position("AAPL")
	suite.Assert().Equal(100.0, position.Quantity)
	suite.Assert().InDelta(100.50, position.AvgCost, 1e-9)
	suite.Assert().Equal(0.0, position.RealizedPnL)
	suite.Assert().Equal(types.DirectionLong, position.Direction())
}

func (suite *LedgerTestSuite) TestWeightedAverageCostOnSameDirectionFills() {
	_, err := suite.ledger.Apply(suite.fill("e1", types.SideBuy, 100, 100.0))
	suite.Require().NoError(err)
	_, err = suite.ledger.Apply(suite.fill("e2", types.SideBuy, 100, 110.0))
	suite.Require().NoError(err)

	position := suite.ledger.Position("AAPL")
	suite.Assert().Equal(200.0, position.Quantity)
	suite.Assert().InDelta(105.0, position.AvgCost, 1e-9)
	// Increasing fills never change realized P&L.
	suite.Assert().Equal(0.0, position.RealizedPnL)
}

func (suite *LedgerTestSuite) TestReducingFillRealizesPnL() {
	_, err := suite.ledger.Apply(suite.fill("e1", types.SideBuy, 100, 100.0))
	suite.Require().NoError(err)

	trade, err := suite.ledger.Apply(suite.fill("e2", types.SideSell, 40, 110.0))
	suite.Require().NoError(err)
	suite.Assert().True(trade.IsNone(), "partial reduction must not close the round-trip")

	position := suite.ledger.Position("AAPL")
	suite.Assert().Equal(60.0, position.Quantity)
	suite.Assert().InDelta(100.0, position.AvgCost, 1e-9, "reduction must not move the cost basis")
	suite.Assert().InDelta(400.0, position.RealizedPnL, 1e-9)
}

func (suite *LedgerTestSuite) TestFullCloseEmitsTrade() {
	entry := suite.fill("e1", types.SideBuy, 100, 100.0)
	entry.Commission = 10.0
	_, err := suite.ledger.Apply(entry)
	suite.Require().NoError(err)

	exit := suite.fill("e2", types.SideSell, 100, 110.0)
	exit.Commission = 11.0
	exit.Time = entry.Time.Add(2 * time.Hour)

	maybeTrade, err := suite.ledger.Apply(exit)
	suite.Require().NoError(err)
	suite.Require().True(maybeTrade.IsSome())

	trade := maybeTrade.Unwrap()
	suite.Assert().Equal(types.DirectionLong, trade.Direction)
	suite.Assert().Equal(100.0, trade.Quantity)
	suite.Assert().InDelta(100.0, trade.AvgEntryPrice, 1e-9)
	suite.Assert().InDelta(110.0, trade.AvgExitPrice, 1e-9)
	suite.Assert().InDelta(1000.0, trade.GrossPnL, 1e-9)
	suite.Assert().InDelta(21.0, trade.Commission, 1e-9)
	suite.Assert().InDelta(979.0, trade.NetPnL, 1e-9)
	suite.Assert().Equal(2*time.Hour, trade.Duration())

	position := suite.ledger.Position("AAPL")
	suite.Assert().Equal(0.0, position.Quantity)
	suite.Assert().Equal(0.0, position.AvgCost)
	suite.Assert().Empty(suite.ledger.Positions(), "flat positions are inert")
}

func (suite *LedgerTestSuite) TestSplitFillClosesAndReverses() {
	// Long 10 at 100; a sell of 15 at 105 must realize P&L on exactly 10 units
	// and open a short of 5 with a fresh basis at the fill price.
	_, err := suite.ledger.Apply(suite.fill("e1", types.SideBuy, 10, 100.0))
	suite.Require().NoError(err)

	maybeTrade, err := suite.ledger.Apply(suite.fill("e2", types.SideSell, 15, 105.0))
	suite.Require().NoError(err)
	suite.Require().True(maybeTrade.IsSome())

	trade := maybeTrade.Unwrap()
	suite.Assert().Equal(10.0, trade.Quantity)
	suite.Assert().InDelta(50.0, trade.GrossPnL, 1e-9)

	position := suite.ledger.Position("AAPL")
	suite.Assert().Equal(-5.0, position.Quantity)
	suite.Assert().Equal(types.DirectionShort, position.Direction())
	suite.Assert().InDelta(105.0, position.AvgCost, 1e-9)
	suite.Assert().InDelta(50.0, position.RealizedPnL, 1e-9)
}

func (suite *LedgerTestSuite) TestSplitFillCommissionProRata() {
	_, err := suite.ledger.Apply(suite.fill("e1", types.SideBuy, 10, 100.0))
	suite.Require().NoError(err)

	crossing := suite.fill("e2", types.SideSell, 15, 105.0)
	crossing.Commission = 15.0

	maybeTrade, err := suite.ledger.Apply(crossing)
	suite.Require().NoError(err)
	suite.Require().True(maybeTrade.IsSome())

	// 10 of 15 units close the long: 10/15 of the commission belongs to the trade.
	suite.Assert().InDelta(10.0, maybeTrade.Unwrap().Commission, 1e-9)

	// Closing the remaining short carries the 5-unit remainder of the commission.
	closeShort := suite.fill("e3", types.SideBuy, 5, 105.0)
	maybeTrade, err = suite.ledger.Apply(closeShort)
	suite.Require().NoError(err)
	suite.Require().True(maybeTrade.IsSome())
	suite.Assert().InDelta(5.0, maybeTrade.Unwrap().Commission, 1e-9)
}

func (suite *LedgerTestSuite) TestShortRoundTrip() {
	_, err := suite.ledger.Apply(suite.fill("e1", types.SideSell, 50, 200.0))
	suite.Require().NoError(err)

	position := suite.ledger.Position("AAPL")
	suite.Assert().Equal(-50.0, position.Quantity)
	suite.Assert().InDelta(200.0, position.AvgCost, 1e-9)

	maybeTrade, err := suite.ledger.Apply(suite.fill("e2", types.SideBuy, 50, 190.0))
	suite.Require().NoError(err)
	suite.Require().True(maybeTrade.IsSome())

	trade := maybeTrade.Unwrap()
	suite.Assert().Equal(types.DirectionShort, trade.Direction)
	suite.Assert().InDelta(500.0, trade.GrossPnL, 1e-9)
}

func (suite *LedgerTestSuite) TestDuplicateExecutionIDIsIdempotent() {
	fill := suite.fill("e1", types.SideBuy, 100, 100.0)

	_, err := suite.ledger.Apply(fill)
	suite.Require().NoError(err)

	before := suite.ledger.Position("AAPL")
	tradesBefore := len(suite.ledger.Trades())

	maybeTrade, err := suite.ledger.Apply(fill)
	suite.Require().NoError(err)
	suite.Assert().True(maybeTrade.IsNone())

	after := suite.ledger.Position("AAPL")
	suite.Assert().Equal(before, after, "duplicate fill must not change the ledger")
	suite.Assert().Equal(tradesBefore, len(suite.ledger.Trades()))
}

func (suite *LedgerTestSuite) TestQuantityConservation() {
	// Cumulative signed quantity always equals the sum of signed fill quantities.
	sequence := []struct {
		side types.Side
		qty  float64
	}{
		{types.SideBuy, 100}, {types.SideSell, 30}, {types.SideSell, 90},
		{types.SideBuy, 5}, {types.SideBuy, 40}, {types.SideSell, 25},
	}

	expected := 0.0

	for i, step := range sequence {
		fill := suite.fill(fmt.Sprintf("e%d", i), step.side, step.qty, 100.0+float64(i))
		_, err := suite.ledger.Apply(fill)
		suite.Require().NoError(err)

		expected += fill.SignedQuantity()
		suite.Assert().InDelta(expected, suite.ledger.Position("AAPL").Quantity, 1e-9)
	}
}

func (suite *LedgerTestSuite) TestRejectsMalformedFills() {
	missingExec := suite.fill("", types.SideBuy, 10, 100)
	_, err := suite.ledger.Apply(missingExec)
	suite.Assert().Equal(errors.ErrCodeLedgerApply, errors.GetCode(err))

	badQty := suite.fill("e1", types.SideBuy, 0, 100)
	_, err = suite.ledger.Apply(badQty)
	suite.Assert().Equal(errors.ErrCodeFillQuantity, errors.GetCode(err))

	badPrice := suite.fill("e2", types.SideBuy, 10, 0)
	_, err = suite.ledger.Apply(badPrice)
	suite.Assert().Equal(errors.ErrCodeLedgerApply, errors.GetCode(err))

	noSymbol := suite.fill("e3", types.SideBuy, 10, 100)
	noSymbol.Symbol = ""
	_, err = suite.ledger.Apply(noSymbol)
	suite.Assert().Equal(errors.ErrCodeFillSymbol, errors.GetCode(err))
}

func (suite *LedgerTestSuite) TestRealizedPnLAcrossSymbols() {
	_, err := suite.ledger.Apply(types.Fill{
		ExecID: "a1", OrderID: "o1", Symbol: "AAPL", Side: types.SideBuy, Quantity: 10, Price: 100, Time: time.Now(),
	})
	suite.Require().NoError(err)
	_, err = suite.ledger.Apply(types.Fill{
		ExecID: "a2", OrderID: "o2", Symbol: "AAPL", Side: types.SideSell, Quantity: 10, Price: 110, Time: time.Now(),
	})
	suite.Require().NoError(err)
	_, err = suite.ledger.Apply(types.Fill{
		ExecID: "g1", OrderID: "o3", Symbol: "GOOG", Side: types.SideSell, Quantity: 5, Price: 200, Time: time.Now(),
	})
	suite.Require().NoError(err)
	_, err = suite.ledger.Apply(types.Fill{
		ExecID: "g2", OrderID: "o4", Symbol: "GOOG", Side: types.SideBuy, Quantity: 5, Price: 210, Time: time.Now(),
	})
	suite.Require().NoError(err)

	suite.Assert().InDelta(100.0-50.0, suite.ledger.RealizedPnL(), 1e-9)
	suite.Assert().Len(suite.ledger.Trades(), 2)

	snapshot := suite.ledger.QuantitySnapshot()
	suite.Assert().Equal(0.0, snapshot["AAPL"])
	suite.Assert().Equal(0.0, snapshot["GOOG"])
}

func (suite *LedgerTestSuite) TestReducingFillWithoutOpenCycleLeavesStateUntouched() {
	// A position record without a round-trip cycle models fills arriving for a
	// position the ledger never saw open.
	suite.ledger.positions["AAPL"] = &types.Position{Symbol: "AAPL", Quantity: 100, AvgCost: 100}

	_, err := suite.ledger.Apply(suite.fill("e1", types.SideSell, 40, 110.0))
	suite.Assert().Equal(errors.ErrCodeLedgerApply, errors.GetCode(err))

	position := suite.ledger.Position("AAPL")
	suite.Assert().Equal(100.0, position.Quantity, "a refused fill must not move the quantity")
	suite.Assert().Equal(0.0, position.RealizedPnL, "a refused fill must not realize P&L")

	// The execution id stays unseen, so the same fill replays once the round
	// trip is restored.
	suite.ledger.cycles["AAPL"] = &cycle{
		direction:     types.DirectionLong,
		entryQty:      decimal.NewFromInt(100),
		entryNotional: decimal.NewFromInt(10000),
		entryTime:     time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
	}

	_, err = suite.ledger.Apply(suite.fill("e1", types.SideSell, 40, 110.0))
	suite.Require().NoError(err)
	suite.Assert().Equal(60.0, suite.ledger.Position("AAPL").Quantity)
}
