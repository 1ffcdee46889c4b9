/*
	This file supports serialization/deserialization and compression of array payloads.
*/

package rda

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is the format of compression for stored data.
// NOTE: Should be no more than 8 (3 bits) of compression types.
type Compression uint8

const (
	Uncompressed Compression = iota
	Snappy
	LZ4
	Zstd
)

func (compress Compression) String() string {
	switch compress {
	case Uncompressed:
		return "none"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression maps a name as returned by String back to a Compression.
func ParseCompression(s string) (Compression, error) {
	for _, c := range []Compression{Uncompressed, Snappy, LZ4, Zstd} {
		if c.String() == s {
			return c, nil
		}
	}
	return Uncompressed, fmt.Errorf("unknown compression %q", s)
}

// Checksum is the type of checksum employed for error checking stored data.
// NOTE: Should be no more than 4 (2 bits) of checksum types.
type Checksum uint8

const (
	NoChecksum Checksum = iota
	CRC32
)

// SerializationFormat is a single byte combining both compression and checksum methods.
type SerializationFormat uint8

func EncodeSerializationFormat(compress Compression, checksum Checksum) SerializationFormat {
	a := (uint8(compress) & 0x07) << 5
	b := (uint8(checksum) & 0x03) << 3
	return SerializationFormat(a | b)
}

func DecodeSerializationFormat(s SerializationFormat) (compress Compression, checksum Checksum) {
	compress = Compression(uint8(s) >> 5)
	checksum = Checksum((uint8(s) >> 3) & 0x03)
	return
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

func compressBytes(data []byte, compress Compression) ([]byte, Compression, error) {
	switch compress {
	case Uncompressed:
		return data, compress, nil
	case Snappy:
		return snappy.Encode(nil, data), compress, nil
	case LZ4:
		out := make([]byte, 4+lz4.CompressBlockBound(len(data)))
		binary.LittleEndian.PutUint32(out[0:4], uint32(len(data)))
		n, err := lz4.CompressBlock(data, out[4:], nil)
		if err != nil {
			return nil, compress, err
		}
		if n == 0 {
			// incompressible
			return data, Uncompressed, nil
		}
		return out[:4+n], compress, nil
	case Zstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, compress, err
		}
		return enc.EncodeAll(data, nil), compress, nil
	default:
		return nil, compress, fmt.Errorf("illegal compression (%s) during serialization", compress)
	}
}

func uncompressBytes(cdata []byte, compress Compression) ([]byte, error) {
	switch compress {
	case Uncompressed:
		return cdata, nil
	case Snappy:
		return snappy.Decode(nil, cdata)
	case LZ4:
		if len(cdata) < 4 {
			return nil, fmt.Errorf("lz4 payload too short: %d bytes", len(cdata))
		}
		origSize := binary.LittleEndian.Uint32(cdata[0:4])
		data := make([]byte, int(origSize))
		n, err := lz4.UncompressBlock(cdata[4:], data)
		if err != nil {
			return nil, err
		}
		if n != int(origSize) {
			return nil, fmt.Errorf("lz4 uncompressed %d bytes, expected %d", n, origSize)
		}
		return data, nil
	case Zstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(cdata, nil)
	default:
		return nil, fmt.Errorf("illegal compression format (%d) in deserialization", compress)
	}
}

// SerializeData prefixes a slice of bytes with its format byte, optionally compressing
// it and writing a checksum of the stored bytes.
func SerializeData(data []byte, compress Compression, checksum Checksum) ([]byte, error) {
	byteData, compress, err := compressBytes(data, compress)
	if err != nil {
		return nil, err
	}

	var buffer bytes.Buffer
	buffer.WriteByte(byte(EncodeSerializationFormat(compress, checksum)))

	switch checksum {
	case NoChecksum:
	case CRC32:
		var crc [4]byte
		binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(byteData))
		buffer.Write(crc[:])
	default:
		return nil, fmt.Errorf("illegal checksum (%d) in SerializeData", checksum)
	}

	// The payload is written last, after any checksum, so no length is needed.
	buffer.Write(byteData)
	return buffer.Bytes(), nil
}

// DeserializeData reverses SerializeData, verifying any checksum.
func DeserializeData(s []byte) (data []byte, compress Compression, err error) {
	if len(s) == 0 {
		return nil, Uncompressed, fmt.Errorf("cannot deserialize empty data")
	}
	var checksum Checksum
	compress, checksum = DecodeSerializationFormat(SerializationFormat(s[0]))
	cdata := s[1:]

	switch checksum {
	case NoChecksum:
	case CRC32:
		if len(cdata) < 4 {
			return nil, compress, fmt.Errorf("serialized data too short for checksum")
		}
		stored := binary.LittleEndian.Uint32(cdata[0:4])
		cdata = cdata[4:]
		if got := crc32.ChecksumIEEE(cdata); got != stored {
			return nil, compress, fmt.Errorf("bad checksum.  Stored %x got %x", stored, got)
		}
	default:
		return nil, compress, fmt.Errorf("illegal checksum in deserializing data")
	}

	data, err = uncompressBytes(cdata, compress)
	return
}
