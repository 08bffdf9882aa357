package models

import (
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"regexp"
)

var (
	accountPattern    = regexp.MustCompile(`^[-a-z0-9]{3,8}:[-a-zA-Z0-9]{1,32}:[a-zA-Z0-9]{1,64}$`)
	blockchainPattern = regexp.MustCompile(`^[-a-z0-9]{3,8}:[-a-zA-Z0-9]{1,32}$`)
	methodPattern     = regexp.MustCompile(`^[a-zA-Z0-9_]{1,64}$`)
)

// ValidAccount checks the namespace:reference:address (caip-10) format
func ValidAccount(account string) bool {
	return accountPattern.MatchString(account)
}

func ValidBlockchain(chain string) bool {
	return blockchainPattern.MatchString(chain)
}

func ValidateAccounts(accounts Set) error {
	for a := range accounts {
		if !ValidAccount(a) {
			return fmt.Errorf(`%w (%s)`, domain.ErrInvalidAccount, a)
		}
	}
	return nil
}

func ValidateMethods(methods Set) error {
	for m := range methods {
		if !methodPattern.MatchString(m) {
			return fmt.Errorf(`%w (%s)`, domain.ErrInvalidMethod, m)
		}
	}
	return nil
}

func ValidateEvents(events Set) error {
	for e := range events {
		if !methodPattern.MatchString(e) {
			return fmt.Errorf(`%w (%s)`, domain.ErrInvalidEvent, e)
		}
	}
	return nil
}
