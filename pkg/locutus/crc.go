// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package locutus

import "hash/crc32"

// CRC-24 configuration (OpenPGP polynomial)
const (
	crc24Polynomial = 0x864CFB
	CRC24Initial    = 0xB704CE
	crc24Mask       = 0xFFFFFF
)

// CalculateCRC computes the CRC32 (IEEE) used by command frames and responses
func CalculateCRC(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// UpdateCRC continues a CRC32 over additional data
func UpdateCRC(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, data)
}

// CalculateCRC24 computes the CRC-24 used to chain RAM uploads and fork data
func CalculateCRC24(data []byte) uint32 {
	return UpdateCRC24(CRC24Initial, data)
}

// UpdateCRC24 continues a CRC-24 from a running value
func UpdateCRC24(crc uint32, data []byte) uint32 {
	crc &= crc24Mask
	for _, b := range data {
		crc ^= uint32(b) << 16
		for i := 0; i < 8; i++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= crc24Polynomial
			}
		}
	}
	return crc & crc24Mask
}
