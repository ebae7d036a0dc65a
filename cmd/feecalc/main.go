// Command feecalc evaluates the fee and PnL formulas for a single position
// without a running service. Amounts are given in human units (WETH, USD
// prices) and converted to contract fixed point.
package main

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	fpmath "PerpParity/internal/math"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
)

const usage = `Usage: feecalc <close|borrowing|liquidation> [flags]
  close       - gross and net WETH returned when closing at --price
  borrowing   - borrowing fee accrued between --from-block and --to-block
  liquidation - liquidation price after fees`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "close":
		err = runClose(os.Args[2:])
	case "borrowing":
		err = runBorrowing(os.Args[2:])
	case "liquidation":
		err = runLiquidation(os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "feecalc %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

type positionFlags struct {
	collateral string
	openPrice  string
	leverage   uint64
	short      bool
}

func (p *positionFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&p.collateral, "collateral", "", "collateral in WETH, e.g. 1.5")
	fs.StringVar(&p.openPrice, "open-price", "", "open price, e.g. 1850.25")
	fs.Uint64Var(&p.leverage, "leverage", 1, "leverage multiplier")
	fs.BoolVar(&p.short, "short", false, "position is short")
}

func (p *positionFlags) parse() (collateral, openPrice *big.Int, err error) {
	if p.leverage == 0 {
		return nil, nil, errors.New("--leverage must be positive")
	}
	if collateral, err = toFixed("collateral", p.collateral, 18); err != nil {
		return nil, nil, err
	}
	if openPrice, err = toFixed("open-price", p.openPrice, 10); err != nil {
		return nil, nil, err
	}
	return collateral, openPrice, nil
}

func runClose(args []string) error {
	fs := pflag.NewFlagSet("close", pflag.ContinueOnError)
	var pos positionFlags
	pos.register(fs)
	price := fs.String("price", "", "close price")
	borrowing := fs.String("borrowing-fee", "0", "borrowing fee in WETH")
	funding := fs.String("funding-fee", "0", "signed funding fee in WETH (negative is a credit)")
	maxGain := fs.Uint64("max-gain", 900, "profit cap in percent")
	liqThreshold := fs.Uint64("liquidation-threshold", 90, "loss in percent at which the position is worth nothing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	collateral, openPrice, err := pos.parse()
	if err != nil {
		return err
	}
	closePrice, err := toFixed("price", *price, 10)
	if err != nil {
		return err
	}
	borrowingFee, err := toSigned("borrowing-fee", *borrowing, 18)
	if err != nil {
		return err
	}
	if borrowingFee.Sign() < 0 {
		return errors.New("--borrowing-fee must be >= 0")
	}
	fundingFee, err := toSigned("funding-fee", *funding, 18)
	if err != nil {
		return err
	}

	limits := fpmath.PnlLimitsFromPercent(*maxGain, *liqThreshold)
	isLong := !pos.short
	p := limits.Clamp(fpmath.RawProfitPercent(closePrice, openPrice, pos.leverage, isLong))
	gross := fpmath.AmountForProfitPercent(collateral, p)
	net := fpmath.NetCloseAmount(gross, borrowingFee, fundingFee)

	printRow("profit_pct", decimal.NewFromBigInt(p, -10).String())
	printAmount("gross", gross)
	printAmount("borrowing_fee", borrowingFee)
	printAmount("funding_fee", fundingFee)
	printAmount("net", net)
	return nil
}

func runBorrowing(args []string) error {
	fs := pflag.NewFlagSet("borrowing", pflag.ContinueOnError)
	var pos positionFlags
	pos.register(fs)
	feePerBlock := fs.String("fee-per-block", "", "pair fee per block (raw 1e10 units)")
	feeExponent := fs.Uint64("fee-exponent", 1, "pair fee exponent")
	maxOi := fs.String("max-oi", "", "pair max open interest in WETH")
	oiLong := fs.String("oi-long", "0", "long open interest in WETH")
	oiShort := fs.String("oi-short", "0", "short open interest in WETH")
	from := fs.Uint64("from-block", 0, "block the position was opened")
	to := fs.Uint64("to-block", 0, "block to accrue to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	collateral, _, err := pos.parse()
	if err != nil {
		return err
	}
	if *to < *from {
		return fmt.Errorf("--to-block %d is before --from-block %d", *to, *from)
	}
	fee, ok := new(big.Int).SetString(*feePerBlock, 10)
	if !ok || fee.Sign() < 0 {
		return fmt.Errorf("--fee-per-block: invalid value %q", *feePerBlock)
	}
	maxOiWei, err := toFixed("max-oi", *maxOi, 18)
	if err != nil {
		return err
	}
	long, err := toSigned("oi-long", *oiLong, 18)
	if err != nil {
		return err
	}
	short, err := toSigned("oi-short", *oiShort, 18)
	if err != nil {
		return err
	}

	side := fpmath.SideFromBuy(!pos.short)
	delta := fpmath.PositionBorrowingDelta(side, long, short, *to, *from, fee, *feeExponent, maxOiWei)
	printRow("side", side.String())
	printRow("delta", delta.String())
	printAmount("fee", fpmath.TradingFee(delta, collateral, pos.leverage))
	return nil
}

func runLiquidation(args []string) error {
	fs := pflag.NewFlagSet("liquidation", pflag.ContinueOnError)
	var pos positionFlags
	pos.register(fs)
	borrowing := fs.String("borrowing-fee", "0", "borrowing fee in WETH")
	funding := fs.String("funding-fee", "0", "signed funding fee in WETH")
	threshold := fs.Uint64("threshold", 90, "liquidation threshold in percent")
	if err := fs.Parse(args); err != nil {
		return err
	}

	collateral, openPrice, err := pos.parse()
	if err != nil {
		return err
	}
	if *threshold > 100 {
		return fmt.Errorf("--threshold %d exceeds 100", *threshold)
	}
	borrowingFee, err := toSigned("borrowing-fee", *borrowing, 18)
	if err != nil {
		return err
	}
	fundingFee, err := toSigned("funding-fee", *funding, 18)
	if err != nil {
		return err
	}

	price := fpmath.LiquidationPrice(openPrice, !pos.short, collateral, pos.leverage, borrowingFee, fundingFee, *threshold)
	printRow("liquidation_price", price.String())
	printRow("liquidation_price_usd", decimal.NewFromBigInt(price, -10).String())
	return nil
}

// toFixed parses a strictly positive decimal and scales it by 10^decimals,
// truncating extra precision.
func toFixed(name, s string, decimals int32) (*big.Int, error) {
	v, err := toSigned(name, s, decimals)
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("--%s must be positive", name)
	}
	return v, nil
}

func toSigned(name, s string, decimals int32) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("--%s is required", name)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return d.Shift(decimals).Truncate(0).BigInt(), nil
}

func printRow(name, value string) {
	fmt.Printf("%-22s %s\n", name, value)
}

func printAmount(name string, wei *big.Int) {
	fmt.Printf("%-22s %s (%s WETH)\n", name, wei.String(), decimal.NewFromBigInt(wei, -18).String())
}
