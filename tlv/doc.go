// Package tlv encodes and decodes Location Service message bodies.
//
// A body is an ordered sequence of type-length-value records:
//
//	type   u8   field tag
//	length u16  little-endian byte length of value
//	value  ...  the encoded field
//
// Each record carries one schema Field. Mandatory fields use tags 0x01-0x0F by
// convention, optional fields 0x10 and up. An optional field is written as a
// one-byte presence flag (0x01) followed by the value; an absent optional field
// produces no record at all.
//
// Numeric values are little-endian. Enums are 4-byte signed integers where
// math.MinInt32 and math.MaxInt32 are reserved width sentinels and never valid.
// Length-prefixed arrays carry a u32 element count followed by the elements;
// the declared maximum is a decode-time bound and is not on the wire.
//
// Decode skips records whose tag the schema does not know, so a client built
// against an older catalog revision still reads newer messages. Use
// OnUnknownTag to observe skipped records or Strict to reject them.
//
// Values are exchanged as Values maps keyed by field name. Decode always
// produces canonical Go types (uint8, int32, float64, string, []uint32,
// []Values, ...). Encode also accepts named types and other integer widths as
// long as the value fits the declared kind.
package tlv
