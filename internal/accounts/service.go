// Package accounts tracks the IBANs owned by the user and classifies
// transfers between them.
package accounts

import (
	"sort"

	"github.com/cleared-dev/moneypipe/internal/model"
	"github.com/cleared-dev/moneypipe/internal/normalize"
)

// OwnedSet is the set of IBANs belonging to the user.
type OwnedSet struct {
	ibans map[string]struct{}
}

// NewOwnedSet creates a set from ibans. Empty values are ignored.
func NewOwnedSet(ibans ...string) *OwnedSet {
	s := &OwnedSet{ibans: make(map[string]struct{}, len(ibans))}
	for _, iban := range ibans {
		s.Add(iban)
	}
	return s
}

// FromAccounts builds the owned set from configured IBANs plus registered
// bank accounts.
func FromAccounts(configured []string, accts []model.BankAccount) *OwnedSet {
	s := NewOwnedSet(configured...)
	for _, a := range accts {
		s.Add(a.IBAN)
	}
	return s
}

// Add inserts iban into the set.
func (s *OwnedSet) Add(iban string) {
	key := normalize.CanonicalIBAN(iban)
	if key == "" {
		return
	}
	s.ibans[key] = struct{}{}
}

// Contains reports whether iban is owned.
func (s *OwnedSet) Contains(iban string) bool {
	key := normalize.CanonicalIBAN(iban)
	if key == "" {
		return false
	}
	_, ok := s.ibans[key]
	return ok
}

// Len returns the number of owned IBANs.
func (s *OwnedSet) Len() int {
	return len(s.ibans)
}

// IBANs returns the owned IBANs in canonical form, sorted.
func (s *OwnedSet) IBANs() []string {
	out := make([]string, 0, len(s.ibans))
	for iban := range s.ibans {
		out = append(out, iban)
	}
	sort.Strings(out)
	return out
}

// Classify reports whether a transaction between iban and counterparty is an
// internal transfer. Both must be present and owned.
func (s *OwnedSet) Classify(iban, counterparty string) bool {
	return s.Contains(iban) && s.Contains(counterparty)
}
