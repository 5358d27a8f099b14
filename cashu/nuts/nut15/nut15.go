package nut15

import (
	"errors"

	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/cashu/nuts/nut06"
)

var (
	ErrSplitTooShort = errors.New("length of split too short")
)

// IsMppSupported returns whether the mint supports multi-path payments
// for the specified method and unit.
func IsMppSupported(mintInfo nut06.MintInfo, method cashu.PaymentMethod, unit cashu.Unit) bool {
	if mintInfo.Nuts.Nut15 == nil {
		return false
	}

	for _, methodSetting := range mintInfo.Nuts.Nut15.Methods {
		if methodSetting.Method == string(method) && methodSetting.Unit == unit.String() {
			return true
		}
	}
	return false
}
