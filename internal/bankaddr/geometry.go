package bankaddr

const (
	// BankSize is the number of bytes in a single bank.
	BankSize = 0x4000
	// NumberOfBanks is the number of banks in the address space.
	NumberOfBanks = 64
	// TotalSize is the size in bytes of the whole linear address space.
	TotalSize = BankSize * NumberOfBanks

	// SwitchableWindow is where the CPU sees a switchable bank. Only used when rendering addresses.
	SwitchableWindow = 0x4000
)

// DetermineBank returns the bank a linear address falls in.
func DetermineBank(global int) int {
	return global / BankSize
}

// ToBankOffset returns the offset within its bank of a linear address.
func ToBankOffset(global int) int {
	return global % BankSize
}

// ToGlobalAddress converts a bank and in-bank offset to a linear address.
func ToGlobalAddress(bank, offset int) int {
	return bank*BankSize + offset
}

func isBankInRange(bank int) bool {
	return bank >= 0 && bank < NumberOfBanks
}

func isOffsetInRange(offset int) bool {
	return offset >= 0 && offset < BankSize
}
