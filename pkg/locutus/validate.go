// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package locutus

// ValidateDataBlockSizeAndAddress checks that a block of length bytes at
// address lies inside device RAM and is word aligned.
//
// Checks run in order: ErrInsufficientMemory when the block does not fit,
// ErrArgumentOutOfRange when length is zero, ErrDataMisaligned when address
// is odd.
func ValidateDataBlockSizeAndAddress(address, length uint32) error {
	return validateBlock("", address, length)
}

func validateBlock(op string, address, length uint32) error {
	if length > TotalRAMSize || uint64(address)+uint64(length) > TotalRAMSize {
		return validationError(op, ErrInsufficientMemory,
			"block of %d bytes at 0x%05X exceeds RAM size 0x%05X", length, address, TotalRAMSize)
	}
	if length == 0 {
		return validationError(op, ErrArgumentOutOfRange, "block length must be greater than zero")
	}
	if address&1 != 0 {
		return validationError(op, ErrDataMisaligned, "address 0x%05X is not word aligned", address)
	}
	return nil
}
