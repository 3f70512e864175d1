package bankaddr

// LimitType selects how Sum treats an in-bank offset that overflows its bank.
type LimitType uint8

const (
	// InValidRanges carries offset overflow into the next bank. The result is only rejected if
	// the resulting bank does not exist.
	InValidRanges LimitType = iota
	// WithinBank rejects any result that leaves the starting bank.
	WithinBank
	// WithinBankOrStartOfNext rejects results that leave the starting bank, except for the
	// address exactly at the start of the next bank. A run of bytes ending precisely at the bank
	// boundary has not crossed it.
	WithinBankOrStartOfNext
)

var limitTypeMapping = map[LimitType]string{
	InValidRanges:           "InValidRanges",
	WithinBank:              "WithinBank",
	WithinBankOrStartOfNext: "WithinBankOrStartOfNext",
}

func (l LimitType) String() string {
	return limitTypeMapping[l]
}

// ToUseType selects which fields of the other address take part in Sum.
type ToUseType uint8

const (
	BankAndAddressInBank ToUseType = iota
	BankOnly
	AddressInBankOnly
)

var toUseTypeMapping = map[ToUseType]string{
	BankAndAddressInBank: "BankAndAddressInBank",
	BankOnly:             "BankOnly",
	AddressInBankOnly:    "AddressInBankOnly",
}

func (t ToUseType) String() string {
	return toUseTypeMapping[t]
}
