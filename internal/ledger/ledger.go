// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ledger enforces the platform's credit limits during workflow
// execution, the same check-before/record-after shape the teacher's cost
// limit enforcer applies to LLM spend, generalized from a float64 USD
// budget to an integer credit balance.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowforge/workflows/internal/store"
)

// Ledger enforces and records per-user credit spend. It holds no state of
// its own beyond a reference to the balance store; every check is a fresh
// read against the store's atomic operations.
type Ledger struct {
	balances store.BalanceStore
}

// New returns a Ledger backed by balances.
func New(balances store.BalanceStore) *Ledger {
	return &Ledger{balances: balances}
}

// Debit charges amount credits to userID. When the user's balance cannot
// cover amount it returns the store layer's *errors.InsufficientCreditsError
// wrapped with a "ledger: debit" prefix (reachable with errors.As); the
// balance is left untouched in that case.
func (l *Ledger) Debit(ctx context.Context, userID uuid.UUID, amount int) error {
	if amount <= 0 {
		return nil
	}
	if err := l.balances.AtomicDebit(ctx, userID, amount); err != nil {
		return fmt.Errorf("ledger: debit: %w", err)
	}
	return nil
}

// Credit adds amount credits to userID's balance and records the purchase.
func (l *Ledger) Credit(ctx context.Context, userID uuid.UUID, amount int) (store.UserPurchase, error) {
	purchase, err := l.balances.AtomicCredit(ctx, userID, amount)
	if err != nil {
		return store.UserPurchase{}, fmt.Errorf("ledger: credit: %w", err)
	}
	return purchase, nil
}

// Balance returns userID's current balance.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	b, err := l.balances.GetBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return b.Credits, nil
}

// Sufficient reports whether userID's current balance can cover amount,
// without mutating it. Callers that need an atomic check-and-debit should
// call Debit directly instead of Sufficient followed by Debit, since the
// balance can change between the two calls.
func (l *Ledger) Sufficient(ctx context.Context, userID uuid.UUID, amount int) (bool, error) {
	credits, err := l.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return credits >= amount, nil
}
