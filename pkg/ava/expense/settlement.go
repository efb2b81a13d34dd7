// Package expense implements the group ledger arithmetic: net balance
// calculation, equal splitting and transfer minimization.
package expense

import (
	"container/heap"
	"math"
)

// epsilon is the settlement tolerance; balances within a cent are
// treated as settled.
const epsilon = 0.01

// Share is one participant's part of an expense.
type Share struct {
	Name   string
	Amount float64
}

// Expense is one recorded group payment.
type Expense struct {
	ID          string
	Description string
	PayerName   string
	Total       float64
	Shares      []Share
	Settled     bool
}

// Transfer is one payment of the settlement plan.
type Transfer struct {
	From   string
	To     string
	Amount float64
}

// NetBalances computes each member's standing across the given
// expenses: positive means the member should receive money, negative
// means they should pay.
func NetBalances(expenses []Expense) map[string]float64 {
	balances := make(map[string]float64)
	for _, e := range expenses {
		balances[e.PayerName] += e.Total
		for _, share := range e.Shares {
			balances[share.Name] -= share.Amount
		}
	}
	return balances
}

// SplitEqually divides total into n equal shares rounded to cents,
// folding the rounding remainder into the last share so the parts
// always sum back to the total.
func SplitEqually(total float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	perPerson := round2(total / float64(n))
	shares := make([]float64, n)
	sum := 0.0
	for i := range shares {
		shares[i] = perPerson
		sum += perPerson
	}
	if diff := total - sum; math.Abs(diff) > epsilon {
		shares[n-1] = round2(shares[n-1] + diff)
	}
	return shares
}

// party is one heap entry: a member and the magnitude they still owe
// or are owed.
type party struct {
	name   string
	amount float64
}

// partyHeap orders by descending amount, name as the tie-break so
// plans come out deterministic.
type partyHeap []party

func (h partyHeap) Len() int { return len(h) }
func (h partyHeap) Less(i, j int) bool {
	if h[i].amount != h[j].amount {
		return h[i].amount > h[j].amount
	}
	return h[i].name < h[j].name
}
func (h partyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *partyHeap) Push(x any)        { *h = append(*h, x.(party)) }
func (h *partyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MinimizeTransfers produces a settlement plan with the fewest
// payments: repeatedly match the largest creditor with the largest
// debtor and settle the smaller of the two amounts.
func MinimizeTransfers(balances map[string]float64) []Transfer {
	creditors := &partyHeap{}
	debtors := &partyHeap{}
	for name, balance := range balances {
		switch {
		case balance > epsilon:
			*creditors = append(*creditors, party{name: name, amount: balance})
		case balance < -epsilon:
			*debtors = append(*debtors, party{name: name, amount: -balance})
		}
	}
	heap.Init(creditors)
	heap.Init(debtors)

	var transfers []Transfer
	for creditors.Len() > 0 && debtors.Len() > 0 {
		creditor := heap.Pop(creditors).(party)
		debtor := heap.Pop(debtors).(party)

		amount := math.Min(creditor.amount, debtor.amount)
		transfers = append(transfers, Transfer{
			From:   debtor.name,
			To:     creditor.name,
			Amount: round2(amount),
		})

		if remaining := creditor.amount - amount; remaining > epsilon {
			heap.Push(creditors, party{name: creditor.name, amount: remaining})
		}
		if remaining := debtor.amount - amount; remaining > epsilon {
			heap.Push(debtors, party{name: debtor.name, amount: remaining})
		}
	}
	return transfers
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
