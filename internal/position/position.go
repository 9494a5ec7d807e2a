// Package position tracks paper holdings and their PnL per mint.
package position

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Position holds the state of one mint. Size is in raw token units and
// AvgEntryPrice in SOL per whole token.
type Position struct {
	Mint          string
	Size          uint64
	AvgEntryPrice decimal.Decimal
	RealizedPnL   decimal.Decimal
}

func (p Position) String() string {
	return fmt.Sprintf("Position{Mint: %s, Size: %d, AvgEntryPrice: %s, RealizedPnL: %s}",
		p.Mint, p.Size, p.AvgEntryPrice.String(), p.RealizedPnL.StringFixed(9))
}

// Book holds positions for every mint the paper executor touched.
type Book struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// Buy adds size raw units bought at price.
func (b *Book) Buy(mint string, size uint64, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.get(mint)
	if p.Size == 0 {
		p.Size = size
		p.AvgEntryPrice = price
		return
	}
	cur := decimal.NewFromUint64(p.Size)
	add := decimal.NewFromUint64(size)
	total := cur.Add(add)
	p.AvgEntryPrice = p.AvgEntryPrice.Mul(cur).Add(price.Mul(add)).Div(total)
	p.Size += size
}

// Sell removes up to size raw units at price and returns the PnL realized
// on the closed part, in SOL.
func (b *Book) Sell(mint string, size uint64, price decimal.Decimal, decimals int32) (closed uint64, realized decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.get(mint)
	closed = size
	if closed > p.Size {
		closed = p.Size
	}
	tokens := decimal.NewFromUint64(closed).Shift(-decimals)
	realized = price.Sub(p.AvgEntryPrice).Mul(tokens)
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.Size -= closed
	if p.Size == 0 {
		p.AvgEntryPrice = decimal.Zero
	}
	return closed, realized
}

// Size returns the raw holdings of mint.
func (b *Book) Size(mint string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.positions[mint]; ok {
		return p.Size
	}
	return 0
}

// Get returns a copy of the position for mint.
func (b *Book) Get(mint string) Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.positions[mint]; ok {
		return *p
	}
	return Position{Mint: mint}
}

// UnrealizedPnL values the open size of mint at price.
func (b *Book) UnrealizedPnL(mint string, price decimal.Decimal, decimals int32) decimal.Decimal {
	p := b.Get(mint)
	if p.Size == 0 {
		return decimal.Zero
	}
	return price.Sub(p.AvgEntryPrice).Mul(decimal.NewFromUint64(p.Size).Shift(-decimals))
}

func (b *Book) get(mint string) *Position {
	p, ok := b.positions[mint]
	if !ok {
		p = &Position{Mint: mint}
		b.positions[mint] = p
	}
	return p
}
