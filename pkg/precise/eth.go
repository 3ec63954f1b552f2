package precise

import (
	"encoding/json"
	"math/big"
)

const (
	precision = 256
	decimals  = 9
)

var (
	gweiPerETH = big.NewFloat(1e9)
	half       = big.NewFloat(0.5)
)

// ETH is an amount of ether, exact to the gwei.
type ETH big.Float

func NewETH(f *big.Float) *ETH {
	if f == nil {
		f = new(big.Float)
	} else {
		f = new(big.Float).Copy(f)
	}
	return (*ETH)(f.SetPrec(precision))
}

// FromGwei converts a gwei amount, such as a summed reward, to ETH.
func FromGwei(gwei float64) *ETH {
	return NewETH(nil).SetGwei(big.NewFloat(gwei))
}

func ParseETH(s string) (*ETH, error) {
	f, _, err := new(big.Float).SetPrec(precision).Parse(s, 10)
	if err != nil {
		return nil, err
	}
	return NewETH(f), nil
}

func (e *ETH) Float() *big.Float {
	return (*big.Float)(e)
}

func (e *ETH) Add(a, b *ETH) *ETH {
	e.Float().Add((*big.Float)(a), (*big.Float)(b))
	return e
}

func (e *ETH) SetGwei(gwei *big.Float) *ETH {
	e.Float().Quo(gwei, gweiPerETH)
	return e
}

// Gwei returns the amount in gwei, rounded to the nearest gwei.
func (e *ETH) Gwei() *big.Int {
	gwei := new(big.Int)
	f := new(big.Float).Copy(e.Float())
	f.Mul(f, gweiPerETH)
	if f.Sign() < 0 {
		f.Sub(f, half)
	} else {
		f.Add(f, half)
	}
	f.Int(gwei)
	return gwei
}

func (e *ETH) String() string {
	return e.Float().Text('f', decimals)
}

func (e *ETH) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *ETH) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}
