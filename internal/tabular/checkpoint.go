// checkpoint.go implements periodic, best-effort snapshotting of a
// Node's ColumnData, adapted from pkg/metricstore/binaryCheckpoint.go's
// magic+version length-prefixed framing (here: one frame per column
// rather than one per metric) and from
// internal/memorystore/avroCheckpoint.go's goavro-backed alternate
// format. Unlike the teacher's incremental per-resolution archive
// files, a RACE checkpoint is a single full snapshot written
// atomically on each tick — this system has no time-series archive to
// merge into, only "the current grid, restorable after a restart".
package tabular

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/linkedin/goavro/v2"
)

var (
	checkpointMagic   = [4]byte{'R', 'A', 'C', 'E'}
	checkpointVersion = uint32(1)
	checkpointOrder   = binary.LittleEndian
)

// CheckpointFormat selects between the two interchangeable codecs.
type CheckpointFormat string

const (
	FormatBinary CheckpointFormat = "binary"
	FormatAvro   CheckpointFormat = "avro"
)

// WriteCheckpoint snapshots node's current column data to path in the
// given format, replacing any existing file at path only after the
// new content is fully written (write-to-temp-then-rename, matching
// the teacher's atomic-replace convention for the credential store).
func WriteCheckpoint(path string, node *Node, format CheckpointFormat) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("tabular: checkpoint dir: %w", err)
	}

	var err error
	switch format {
	case FormatBinary:
		err = writeBinaryCheckpoint(tmp, node)
	case FormatAvro:
		err = writeAvroCheckpoint(tmp, node)
	default:
		return fmt.Errorf("tabular: unknown checkpoint format %q", format)
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadCheckpoint restores column data into node from a snapshot
// previously written by WriteCheckpoint.
func ReadCheckpoint(path string, node *Node, format CheckpointFormat) error {
	switch format {
	case FormatBinary:
		return readBinaryCheckpoint(path, node)
	case FormatAvro:
		return readAvroCheckpoint(path, node)
	default:
		return fmt.Errorf("tabular: unknown checkpoint format %q", format)
	}
}

// --- binary format ---
//
// Header (12 bytes): magic [4]byte "RACE", version uint32 LE, ncolumns uint32 LE
// Per column:
//   name_len uint16 LE, name []byte
//   last_update int64 LE (unix millis)
//   ncells uint32 LE
//   per cell: row_id_len uint16 LE, row_id []byte, kind byte, timestamp int64 LE, payload
//     payload by kind: Integer/Boolean -> int64 LE; Real -> float64 bits LE; IntegerList -> count uint32 LE + int64s LE

func writeBinaryCheckpoint(path string, node *Node) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	if _, err := bw.Write(checkpointMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, checkpointOrder, checkpointVersion); err != nil {
		return err
	}
	if err := binary.Write(bw, checkpointOrder, uint32(len(node.Data))); err != nil {
		return err
	}

	for _, col := range node.Columns.Columns {
		cd := node.Data[col.ID]
		if err := writeBinaryColumn(bw, cd); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeBinaryColumn(bw *bufio.Writer, cd *ColumnData) error {
	if err := writeBinaryString(bw, cd.ColumnID); err != nil {
		return err
	}
	if err := binary.Write(bw, checkpointOrder, cd.LastUpdate.UnixMilli()); err != nil {
		return err
	}
	if err := binary.Write(bw, checkpointOrder, uint32(len(cd.Cells))); err != nil {
		return err
	}
	for rowID, v := range cd.Cells {
		if err := writeBinaryString(bw, rowID); err != nil {
			return err
		}
		if err := bw.WriteByte(byte(v.Kind)); err != nil {
			return err
		}
		if err := binary.Write(bw, checkpointOrder, v.Timestamp.UnixMilli()); err != nil {
			return err
		}
		switch v.Kind {
		case KindInteger:
			if err := binary.Write(bw, checkpointOrder, v.Int); err != nil {
				return err
			}
		case KindBoolean:
			b := int64(0)
			if v.Bool {
				b = 1
			}
			if err := binary.Write(bw, checkpointOrder, b); err != nil {
				return err
			}
		case KindReal:
			if err := binary.Write(bw, checkpointOrder, v.Real); err != nil {
				return err
			}
		case KindIntegerList:
			if err := binary.Write(bw, checkpointOrder, uint32(len(v.IntList))); err != nil {
				return err
			}
			for _, x := range v.IntList {
				if err := binary.Write(bw, checkpointOrder, x); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("tabular: checkpoint: unknown kind %s", v.Kind)
		}
	}
	return nil
}

func writeBinaryString(bw *bufio.Writer, s string) error {
	if err := binary.Write(bw, checkpointOrder, uint16(len(s))); err != nil {
		return err
	}
	_, err := bw.WriteString(s)
	return err
}

func readBinaryCheckpoint(path string, node *Node) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	br := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return err
	}
	if magic != checkpointMagic {
		return fmt.Errorf("tabular: checkpoint %q: bad magic", path)
	}
	var version, ncolumns uint32
	if err := binary.Read(br, checkpointOrder, &version); err != nil {
		return err
	}
	if err := binary.Read(br, checkpointOrder, &ncolumns); err != nil {
		return err
	}

	for i := uint32(0); i < ncolumns; i++ {
		cd, err := readBinaryColumn(br)
		if err != nil {
			return err
		}
		if err := node.LoadColumnData(cd); err != nil {
			return err
		}
	}
	return nil
}

func readBinaryColumn(br *bufio.Reader) (*ColumnData, error) {
	columnID, err := readBinaryString(br)
	if err != nil {
		return nil, err
	}
	cd := NewColumnData(columnID)

	var lastUpdateMs int64
	if err := binary.Read(br, checkpointOrder, &lastUpdateMs); err != nil {
		return nil, err
	}
	cd.LastUpdate = time.UnixMilli(lastUpdateMs).UTC()

	var ncells uint32
	if err := binary.Read(br, checkpointOrder, &ncells); err != nil {
		return nil, err
	}

	for i := uint32(0); i < ncells; i++ {
		rowID, err := readBinaryString(br)
		if err != nil {
			return nil, err
		}
		kindByte, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		kind := CellKind(kindByte)

		var tsMs int64
		if err := binary.Read(br, checkpointOrder, &tsMs); err != nil {
			return nil, err
		}
		ts := time.UnixMilli(tsMs).UTC()

		switch kind {
		case KindInteger:
			var v int64
			if err := binary.Read(br, checkpointOrder, &v); err != nil {
				return nil, err
			}
			cd.Cells[rowID] = NewInteger(v, ts)
		case KindBoolean:
			var v int64
			if err := binary.Read(br, checkpointOrder, &v); err != nil {
				return nil, err
			}
			cd.Cells[rowID] = NewBoolean(v != 0, ts)
		case KindReal:
			var v float64
			if err := binary.Read(br, checkpointOrder, &v); err != nil {
				return nil, err
			}
			cd.Cells[rowID] = NewReal(v, ts)
		case KindIntegerList:
			var n uint32
			if err := binary.Read(br, checkpointOrder, &n); err != nil {
				return nil, err
			}
			list := make([]int64, n)
			for j := range list {
				if err := binary.Read(br, checkpointOrder, &list[j]); err != nil {
					return nil, err
				}
			}
			cd.Cells[rowID] = NewIntegerList(list, ts)
		default:
			return nil, fmt.Errorf("tabular: checkpoint: unknown kind byte %d", kindByte)
		}
	}
	return cd, nil
}

func readBinaryString(br *bufio.Reader) (string, error) {
	var n uint16
	if err := binary.Read(br, checkpointOrder, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// --- avro format ---
//
// One OCF-free record per column, encoded individually with a fixed
// schema and framed with a uint32 length prefix (teacher's OCF
// container format is overkill for a single-writer snapshot file, so
// this uses goavro's lower-level BinaryFromNative/NativeFromBinary
// directly against a length-prefixed stream, the same way
// binaryCheckpoint.go frames its own records by hand).
const avroColumnSchema = `{
  "type": "record",
  "name": "ColumnSnapshot",
  "fields": [
    {"name": "columnId", "type": "string"},
    {"name": "lastUpdateMs", "type": "long"},
    {"name": "cells", "type": {"type": "map", "values": {
      "type": "record",
      "name": "Cell",
      "fields": [
        {"name": "kind", "type": "int"},
        {"name": "timestampMs", "type": "long"},
        {"name": "intValue", "type": "long"},
        {"name": "realValue", "type": "double"},
        {"name": "boolValue", "type": "boolean"},
        {"name": "intListValue", "type": {"type": "array", "items": "long"}}
      ]
    }}}
  ]
}`

func avroCodec() (*goavro.Codec, error) {
	return goavro.NewCodec(avroColumnSchema)
}

func writeAvroCheckpoint(path string, node *Node) error {
	codec, err := avroCodec()
	if err != nil {
		return fmt.Errorf("tabular: avro codec: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	for _, col := range node.Columns.Columns {
		cd := node.Data[col.ID]
		native := columnDataToAvroNative(cd)
		binaryMsg, err := codec.BinaryFromNative(nil, native)
		if err != nil {
			return fmt.Errorf("tabular: avro encode column %q: %w", col.ID, err)
		}
		if err := binary.Write(bw, checkpointOrder, uint32(len(binaryMsg))); err != nil {
			return err
		}
		if _, err := bw.Write(binaryMsg); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func columnDataToAvroNative(cd *ColumnData) map[string]any {
	cells := make(map[string]any, len(cd.Cells))
	for rowID, v := range cd.Cells {
		intList := make([]any, 0, len(v.IntList))
		for _, x := range v.IntList {
			intList = append(intList, x)
		}
		cells[rowID] = map[string]any{
			"kind":         int32(v.Kind),
			"timestampMs":  v.Timestamp.UnixMilli(),
			"intValue":     v.Int,
			"realValue":    v.Real,
			"boolValue":    v.Bool,
			"intListValue": intList,
		}
	}
	return map[string]any{
		"columnId":     cd.ColumnID,
		"lastUpdateMs": cd.LastUpdate.UnixMilli(),
		"cells":        cells,
	}
}

func readAvroCheckpoint(path string, node *Node) error {
	codec, err := avroCodec()
	if err != nil {
		return fmt.Errorf("tabular: avro codec: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	br := bufio.NewReader(f)

	for {
		var n uint32
		if err := binary.Read(br, checkpointOrder, &n); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return err
		}
		native, _, err := codec.NativeFromBinary(buf)
		if err != nil {
			return fmt.Errorf("tabular: avro decode: %w", err)
		}
		cd, err := avroNativeToColumnData(native)
		if err != nil {
			return err
		}
		if err := node.LoadColumnData(cd); err != nil {
			return err
		}
	}
}

func avroNativeToColumnData(native any) (*ColumnData, error) {
	rec, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("tabular: avro record: unexpected shape %T", native)
	}
	cd := NewColumnData(rec["columnId"].(string))
	cd.LastUpdate = time.UnixMilli(rec["lastUpdateMs"].(int64)).UTC()

	cellsRaw, _ := rec["cells"].(map[string]any)
	for rowID, v := range cellsRaw {
		cellRec, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tabular: avro cell %q: unexpected shape %T", rowID, v)
		}
		kind := CellKind(cellRec["kind"].(int32))
		ts := time.UnixMilli(cellRec["timestampMs"].(int64)).UTC()
		switch kind {
		case KindInteger:
			cd.Cells[rowID] = NewInteger(cellRec["intValue"].(int64), ts)
		case KindBoolean:
			cd.Cells[rowID] = NewBoolean(cellRec["boolValue"].(bool), ts)
		case KindReal:
			cd.Cells[rowID] = NewReal(cellRec["realValue"].(float64), ts)
		case KindIntegerList:
			rawList, _ := cellRec["intListValue"].([]any)
			list := make([]int64, len(rawList))
			for i, x := range rawList {
				list[i] = x.(int64)
			}
			cd.Cells[rowID] = NewIntegerList(list, ts)
		default:
			return nil, fmt.Errorf("tabular: avro cell %q: unknown kind %d", rowID, kind)
		}
	}
	return cd, nil
}
