// Package record translates between raw ROM bytes and typed domain records.
//
// Every record kind is described by layout fields: a byte offset, a bit
// offset and width, an encoding kind and, for pointers, an explicit
// relativity. One generic routine reads and writes those fields, and Go
// structs bind to them by name with `rom` tags:
//
//	type Item struct {
//		Price int `rom:"price"`
//	}
//
//	var it record.Item
//	err := codec.DecodeRecord(desc, file, 0, &it)
//	it.Price *= 2
//	warnings, err := codec.EncodeRecord(desc, &it, file, 0)
//
// Numeric values outside a field's bit-width domain are clamped, never
// wrapped, and reported as Warnings. Pointer values that do not fit are
// errors.
//
// Variable-length records (learnsets, team lists, shop lists) are scanned
// with a Cursor and re-encoded at their exact new length; shops that live
// in the executable are moved through the image's arena and every pointer
// to them is rewritten.
package record
