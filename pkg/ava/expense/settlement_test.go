package expense

import (
	"math"
	"testing"
)

func TestSplitEqually(t *testing.T) {
	t.Run("even split", func(t *testing.T) {
		shares := SplitEqually(90, 3)
		for i, s := range shares {
			if s != 30 {
				t.Errorf("share %d = %v, want 30", i, s)
			}
		}
	})

	t.Run("remainder folds into the last share", func(t *testing.T) {
		shares := SplitEqually(100, 3)
		if shares[0] != 33.33 || shares[1] != 33.33 {
			t.Errorf("unexpected shares %v", shares)
		}
		if shares[2] != 33.34 {
			t.Errorf("last share = %v, want 33.34", shares[2])
		}
		sum := 0.0
		for _, s := range shares {
			sum += s
		}
		if math.Abs(sum-100) > 1e-9 {
			t.Errorf("shares sum to %v, want 100", sum)
		}
	})

	t.Run("single participant", func(t *testing.T) {
		shares := SplitEqually(42.5, 1)
		if len(shares) != 1 || shares[0] != 42.5 {
			t.Errorf("unexpected shares %v", shares)
		}
	})

	t.Run("invalid count", func(t *testing.T) {
		if shares := SplitEqually(10, 0); shares != nil {
			t.Errorf("expected nil, got %v", shares)
		}
	})
}

func TestNetBalances(t *testing.T) {
	expenses := []Expense{
		{
			PayerName: "Rami", Total: 90,
			Shares: []Share{{"Rami", 30}, {"Lina", 30}, {"Omar", 30}},
		},
		{
			PayerName: "Lina", Total: 30,
			Shares: []Share{{"Rami", 15}, {"Lina", 15}},
		},
	}

	balances := NetBalances(expenses)
	if balances["Rami"] != 45 {
		t.Errorf("Rami = %v, want 45", balances["Rami"])
	}
	if balances["Lina"] != -15 {
		t.Errorf("Lina = %v, want -15", balances["Lina"])
	}
	if balances["Omar"] != -30 {
		t.Errorf("Omar = %v, want -30", balances["Omar"])
	}
}

func TestMinimizeTransfers(t *testing.T) {
	t.Run("single debt", func(t *testing.T) {
		transfers := MinimizeTransfers(map[string]float64{"Rami": 50, "Lina": -50})
		if len(transfers) != 1 {
			t.Fatalf("expected one transfer, got %v", transfers)
		}
		tr := transfers[0]
		if tr.From != "Lina" || tr.To != "Rami" || tr.Amount != 50 {
			t.Errorf("unexpected transfer %+v", tr)
		}
	})

	t.Run("largest pairs settle first", func(t *testing.T) {
		transfers := MinimizeTransfers(map[string]float64{
			"Rami": 60, "Lina": -40, "Omar": -20,
		})
		if len(transfers) != 2 {
			t.Fatalf("expected two transfers, got %v", transfers)
		}
		if transfers[0].From != "Lina" || transfers[0].Amount != 40 {
			t.Errorf("expected Lina to settle 40 first, got %+v", transfers[0])
		}
		if transfers[1].From != "Omar" || transfers[1].Amount != 20 {
			t.Errorf("expected Omar to settle 20, got %+v", transfers[1])
		}
	})

	t.Run("balances within a cent are ignored", func(t *testing.T) {
		transfers := MinimizeTransfers(map[string]float64{"Rami": 0.005, "Lina": -0.005})
		if len(transfers) != 0 {
			t.Errorf("expected no transfers, got %v", transfers)
		}
	})

	t.Run("plan conserves money", func(t *testing.T) {
		balances := map[string]float64{
			"A": 123.45, "B": -23.45, "C": -80, "D": -20,
		}
		transfers := MinimizeTransfers(balances)
		total := 0.0
		for _, tr := range transfers {
			if tr.Amount <= 0 {
				t.Errorf("non-positive transfer %+v", tr)
			}
			total += tr.Amount
		}
		if math.Abs(total-123.45) > 0.02 {
			t.Errorf("transfers move %v, want 123.45", total)
		}
	})

	t.Run("deterministic on ties", func(t *testing.T) {
		first := MinimizeTransfers(map[string]float64{"A": 10, "B": -5, "C": -5})
		second := MinimizeTransfers(map[string]float64{"A": 10, "B": -5, "C": -5})
		if len(first) != len(second) {
			t.Fatalf("plans differ in size: %v vs %v", first, second)
		}
		for i := range first {
			if first[i] != second[i] {
				t.Errorf("plans differ at %d: %+v vs %+v", i, first[i], second[i])
			}
		}
	})
}
