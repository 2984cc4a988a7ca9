// Package recorder records and replays streams of 2D pupil detections
// (with their grayscale frames) so the 3D detector can be rerun offline.
//
// A log is a directory holding header.json, a binary seek index and
// chunked frame files of length-prefixed protobuf Struct messages.
package recorder

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/eye3d/internal/camera"
	"github.com/banshee-data/eye3d/internal/detector"
	"github.com/banshee-data/eye3d/internal/geometry"
	"github.com/banshee-data/eye3d/internal/search"
)

// ChunkSize is the number of entries per chunk file.
const ChunkSize = 1000

// ErrClosed is returned when recording into a closed log.
var ErrClosed = errors.New("recorder: closed")

// LogHeader contains metadata about a recorded log.
type LogHeader struct {
	Version        string       `json:"version"`
	CreatedNs      int64        `json:"created_ns"`
	Camera         camera.Model `json:"camera"`
	TotalFrames    uint64       `json:"total_frames"`
	StartTimestamp float64      `json:"start_timestamp"`
	EndTimestamp   float64      `json:"end_timestamp"`
}

// IndexEntry is an entry in the seek index.
type IndexEntry struct {
	FrameID   uint64
	Timestamp float64
	ChunkID   uint32
	Offset    uint32
}

// Entry is one recorded detection. Frame is empty when none was recorded.
type Entry struct {
	Datum detector.Datum
	Frame search.Frame
}

// Recorder writes entries to a log directory.
type Recorder struct {
	basePath string

	header       LogHeader
	index        []IndexEntry
	currentChunk int
	chunkFile    *os.File
	chunkOffset  uint32

	frameCount uint64

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a log in basePath. If basePath is empty, a
// timestamped directory is created in the system temp dir.
func NewRecorder(basePath string, cam camera.Model) (*Recorder, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(), fmt.Sprintf("eye3d_%d", time.Now().Unix()))
	}
	if err := os.MkdirAll(filepath.Join(basePath, "frames"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Recorder{
		basePath:     basePath,
		currentChunk: -1,
		header: LogHeader{
			Version:   "1.0",
			CreatedNs: time.Now().UnixNano(),
			Camera:    cam,
		},
	}, nil
}

// Record appends one detection and its frame.
func (r *Recorder) Record(d detector.Datum, frame search.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if r.frameCount == 0 {
		r.header.StartTimestamp = d.Timestamp
	}
	r.header.EndTimestamp = d.Timestamp

	chunkIdx := int(r.frameCount / ChunkSize)
	if chunkIdx != r.currentChunk {
		if err := r.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}

	data, err := encodeEntry(Entry{Datum: d, Frame: frame})
	if err != nil {
		return fmt.Errorf("failed to serialize entry: %w", err)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := r.chunkFile.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write entry length: %w", err)
	}
	if _, err := r.chunkFile.Write(data); err != nil {
		return fmt.Errorf("failed to write entry data: %w", err)
	}

	r.index = append(r.index, IndexEntry{
		FrameID:   r.frameCount,
		Timestamp: d.Timestamp,
		ChunkID:   uint32(chunkIdx),
		Offset:    r.chunkOffset,
	})
	r.chunkOffset += uint32(4 + len(data))
	r.frameCount++
	return nil
}

func chunkPath(basePath string, chunkIdx int) string {
	return filepath.Join(basePath, "frames", fmt.Sprintf("chunk_%04d.pb", chunkIdx))
}

// rotateChunk closes the current chunk and opens a new one.
func (r *Recorder) rotateChunk(chunkIdx int) error {
	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return err
		}
	}
	f, err := os.Create(chunkPath(r.basePath, chunkIdx))
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}
	r.chunkFile = f
	r.currentChunk = chunkIdx
	r.chunkOffset = 0
	return nil
}

// Close finalises the log and writes the header and index.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return fmt.Errorf("failed to close chunk: %w", err)
		}
	}

	r.header.TotalFrames = r.frameCount
	headerData, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.basePath, "header.json"), headerData, 0644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	indexFile, err := os.Create(filepath.Join(r.basePath, "index.bin"))
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer indexFile.Close()
	for _, entry := range r.index {
		if err := binary.Write(indexFile, binary.LittleEndian, entry); err != nil {
			return fmt.Errorf("failed to write index: %w", err)
		}
	}
	return nil
}

// Path returns the base path of the log.
func (r *Recorder) Path() string { return r.basePath }

// FrameCount returns the number of entries recorded.
func (r *Recorder) FrameCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameCount
}

func encodeEntry(e Entry) ([]byte, error) {
	el := e.Datum.Ellipse
	fields := map[string]any{
		"timestamp":  e.Datum.Timestamp,
		"confidence": e.Datum.Confidence,
		"ellipse": map[string]any{
			"center": []any{el.Center[0], el.Center[1]},
			"axes":   []any{el.Axes[0], el.Axes[1]},
			"angle":  el.Angle,
		},
	}
	if len(e.Frame.Pix) > 0 {
		fields["frame"] = map[string]any{
			"width":  float64(e.Frame.Width),
			"height": float64(e.Frame.Height),
			"pix":    base64.StdEncoding.EncodeToString(e.Frame.Pix),
		}
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func decodeEntry(data []byte) (Entry, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Entry{}, err
	}
	f := s.GetFields()

	var e Entry
	e.Datum.Timestamp = f["timestamp"].GetNumberValue()
	e.Datum.Confidence = f["confidence"].GetNumberValue()

	el := f["ellipse"].GetStructValue().GetFields()
	center := el["center"].GetListValue().GetValues()
	axes := el["axes"].GetListValue().GetValues()
	if len(center) != 2 || len(axes) != 2 {
		return Entry{}, fmt.Errorf("malformed ellipse: %d center and %d axes values", len(center), len(axes))
	}
	e.Datum.Ellipse = geometry.PixelEllipse{
		Center: [2]float64{center[0].GetNumberValue(), center[1].GetNumberValue()},
		Axes:   [2]float64{axes[0].GetNumberValue(), axes[1].GetNumberValue()},
		Angle:  el["angle"].GetNumberValue(),
	}

	if fr := f["frame"].GetStructValue(); fr != nil {
		ff := fr.GetFields()
		pix, err := base64.StdEncoding.DecodeString(ff["pix"].GetStringValue())
		if err != nil {
			return Entry{}, fmt.Errorf("malformed frame pixels: %w", err)
		}
		e.Frame = search.Frame{
			Width:  int(ff["width"].GetNumberValue()),
			Height: int(ff["height"].GetNumberValue()),
			Pix:    pix,
		}
	}
	return e, nil
}

// Replayer reads entries from a log directory.
type Replayer struct {
	basePath string
	header   LogHeader
	index    []IndexEntry

	currentFrame uint64
	currentChunk int
	chunkData    []byte

	mu sync.Mutex
}

// NewReplayer opens a log for replay.
func NewReplayer(basePath string) (*Replayer, error) {
	r := &Replayer{basePath: basePath, currentChunk: -1}

	headerData, err := os.ReadFile(filepath.Join(basePath, "header.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(headerData, &r.header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	indexFile, err := os.Open(filepath.Join(basePath, "index.bin"))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	defer indexFile.Close()

	r.index = make([]IndexEntry, 0, r.header.TotalFrames)
	for {
		var entry IndexEntry
		if err := binary.Read(indexFile, binary.LittleEndian, &entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read index: %w", err)
		}
		r.index = append(r.index, entry)
	}
	return r, nil
}

// Header returns the log header.
func (r *Replayer) Header() LogHeader { return r.header }

// TotalFrames returns the number of indexed entries.
func (r *Replayer) TotalFrames() uint64 { return uint64(len(r.index)) }

// CurrentFrame returns the index of the next entry Next returns.
func (r *Replayer) CurrentFrame() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentFrame
}

// Seek moves to a specific entry.
func (r *Replayer) Seek(frameIdx uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if frameIdx >= uint64(len(r.index)) {
		return fmt.Errorf("frame index out of range: %d >= %d", frameIdx, len(r.index))
	}
	r.currentFrame = frameIdx
	return nil
}

// SeekToTimestamp moves to the first entry at or after ts, or to the last
// entry when ts is beyond the log.
func (r *Replayer) SeekToTimestamp(ts float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := sort.Search(len(r.index), func(i int) bool { return r.index[i].Timestamp >= ts })
	r.currentFrame = uint64(min(i, max(len(r.index)-1, 0)))
}

// Next returns the current entry and advances. It returns io.EOF at the end
// of the log.
func (r *Replayer) Next() (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentFrame >= uint64(len(r.index)) {
		return Entry{}, io.EOF
	}
	entry := r.index[r.currentFrame]

	if int(entry.ChunkID) != r.currentChunk {
		data, err := os.ReadFile(chunkPath(r.basePath, int(entry.ChunkID)))
		if err != nil {
			return Entry{}, fmt.Errorf("failed to read chunk: %w", err)
		}
		r.chunkData = data
		r.currentChunk = int(entry.ChunkID)
	}

	offset := uint64(entry.Offset)
	if offset+4 > uint64(len(r.chunkData)) {
		return Entry{}, fmt.Errorf("invalid entry offset %d", offset)
	}
	n := uint64(binary.LittleEndian.Uint32(r.chunkData[offset:]))
	offset += 4
	if offset+n > uint64(len(r.chunkData)) {
		return Entry{}, fmt.Errorf("invalid entry length %d", n)
	}

	e, err := decodeEntry(r.chunkData[offset : offset+n])
	if err != nil {
		return Entry{}, fmt.Errorf("failed to deserialize entry %d: %w", entry.FrameID, err)
	}
	r.currentFrame++
	return e, nil
}
